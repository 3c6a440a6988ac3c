package wsproto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("test payload data")
	msg := &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, GzipCompression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}

	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Header.MessageType != msg.Header.MessageType {
		t.Errorf("message type = %v, want %v", decoded.Header.MessageType, msg.Header.MessageType)
	}
	if !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Errorf("payload = %v, want %v", decoded.Payload, msg.Payload)
	}
}

func TestAudioChunkLastPacketEncodesNegativeSequence(t *testing.T) {
	msg := NewAudioChunk([]byte{1, 2, 3}, 5, true, NoCompression)
	if !msg.IsLastPacket() {
		t.Fatalf("expected last packet flag set")
	}
	if msg.Sequence != -5 {
		t.Fatalf("sequence = %d, want -5", msg.Sequence)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	data := []byte("repeat repeat repeat repeat repeat this test string for gzip")

	compressed, err := CompressPayload(data, GzipCompression)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	decompressed, err := DecompressPayload(compressed, GzipCompression)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("decompressed data does not match original")
	}
}

func TestNoCompressionIsPassthrough(t *testing.T) {
	data := []byte("raw bytes")
	out, err := CompressPayload(data, NoCompression)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("expected passthrough, got %v", out)
	}
}
