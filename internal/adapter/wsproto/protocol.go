// Package wsproto implements the length-prefixed binary frame format used
// by the STT/TTS websocket adapters: a 4-byte header (protocol version,
// message type, flags, serialization/compression method), optional
// sequence number, optional event metadata, and a size-prefixed payload.
// Adapted from the teacher's internal/service/speech/protocol.go, which
// speaks this same framing to a real streaming speech provider.
package wsproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const Version uint8 = 0b0001

type MessageType uint8

const (
	FullClientRequest      MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

type Flags uint8

const (
	NoSequenceNumber       Flags = 0b0000
	PositiveSequenceNumber Flags = 0b0001
	LastPacketNoSequence   Flags = 0b0010
	NegativeSequenceNumber Flags = 0b0011
	WithEvent              Flags = 0b0100
)

type EventType int32

const (
	EventNone               EventType = 0
	EventStartConnection    EventType = 1
	EventFinishConnection   EventType = 2
	EventConnectionStarted  EventType = 50
	EventConnectionFailed   EventType = 51
	EventConnectionFinished EventType = 52
	EventSessionStarted     EventType = 150
	EventSessionFinished    EventType = 152
	EventSessionFailed      EventType = 153
)

type Serialization uint8

const (
	NoSerialization     Serialization = 0b0000
	JSONSerialization   Serialization = 0b0001
	CustomSerialization Serialization = 0b1111
)

type Compression uint8

const (
	NoCompression     Compression = 0b0000
	GzipCompression   Compression = 0b0001
	CustomCompression Compression = 0b1111
)

type Header struct {
	Version       uint8
	HeaderWords   uint8 // size of header in 4-byte words
	MessageType   MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Reserved      uint8
}

type Message struct {
	Header      Header
	Sequence    int32
	EventType   EventType
	SessionID   string
	ConnectID   string
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

func NewHeader(msgType MessageType, flags Flags, ser Serialization, comp Compression) Header {
	return Header{
		Version:       Version,
		HeaderWords:   0b0001,
		MessageType:   msgType,
		Flags:         flags,
		Serialization: ser,
		Compression:   comp,
	}
}

func (h Header) Encode() []byte {
	buf := make([]byte, 4)
	buf[0] = (h.Version << 4) | h.HeaderWords
	buf[1] = (uint8(h.MessageType) << 4) | uint8(h.Flags)
	buf[2] = (uint8(h.Serialization) << 4) | uint8(h.Compression)
	buf[3] = h.Reserved
	return buf
}

func DecodeHeader(data []byte) (Header, error) {
	if len(data) < 4 {
		return Header{}, fmt.Errorf("wsproto: header too short: got %d bytes, need 4", len(data))
	}
	h := Header{
		Version:       (data[0] >> 4) & 0x0F,
		HeaderWords:   data[0] & 0x0F,
		MessageType:   MessageType((data[1] >> 4) & 0x0F),
		Flags:         Flags(data[1] & 0x0F),
		Serialization: Serialization((data[2] >> 4) & 0x0F),
		Compression:   Compression(data[2] & 0x0F),
		Reserved:      data[3],
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("wsproto: unsupported protocol version %d", h.Version)
	}
	return h, nil
}

// Encode serializes msg into the wire format.
func Encode(msg *Message) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.Write(msg.Header.Encode())

	switch msg.Header.Flags & 0b0011 {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		writeUint32(buf, uint32(msg.Sequence))
	}

	if msg.Header.Flags&WithEvent == WithEvent {
		writeUint32(buf, uint32(msg.EventType))
		if !eventSkipsSessionID(msg.EventType) {
			writeLengthPrefixed(buf, []byte(msg.SessionID))
		}
		if eventHasConnectID(msg.EventType) {
			writeLengthPrefixed(buf, []byte(msg.ConnectID))
		}
	}

	writeUint32(buf, msg.PayloadSize)
	if len(msg.Payload) > 0 {
		buf.Write(msg.Payload)
	}
	return buf.Bytes(), nil
}

// Decode reads one Message from r.
func Decode(r io.Reader) (*Message, error) {
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("wsproto: read header: %w", err)
	}
	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: header}

	if extra := int(header.HeaderWords)*4 - 4; extra > 0 {
		if _, err := io.ReadFull(r, make([]byte, extra)); err != nil {
			return nil, fmt.Errorf("wsproto: read extended header: %w", err)
		}
	}

	switch header.Flags & 0b0011 {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("wsproto: read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if header.Flags&WithEvent == WithEvent {
		eventRaw, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("wsproto: read event type: %w", err)
		}
		msg.EventType = EventType(int32(eventRaw))

		if !eventSkipsSessionID(msg.EventType) {
			sessionID, err := readLengthPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("wsproto: read session id: %w", err)
			}
			msg.SessionID = string(sessionID)
		}
		if eventHasConnectID(msg.EventType) {
			connectID, err := readLengthPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("wsproto: read connect id: %w", err)
			}
			msg.ConnectID = string(connectID)
		}
	}

	if header.MessageType == ErrorMessage {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("wsproto: read error code: %w", err)
		}
		msg.ErrorCode = code
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("wsproto: read payload size: %w", err)
	}
	msg.PayloadSize = size

	if msg.PayloadSize > 0 {
		msg.Payload = make([]byte, msg.PayloadSize)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, fmt.Errorf("wsproto: read payload (%d bytes): %w", msg.PayloadSize, err)
		}
	}
	return msg, nil
}

// NewFullClientRequest builds a FullClientRequest carrying a JSON payload.
func NewFullClientRequest(payload []byte, compression Compression) *Message {
	return &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// NewAudioChunk builds an AudioOnlyRequest for one sequenced chunk of raw
// audio. sequence is 1-based; isLast marks the terminal chunk, which is
// encoded with a negative sequence number per the wire convention.
func NewAudioChunk(audio []byte, sequence int32, isLast bool, compression Compression) *Message {
	var flags Flags
	switch {
	case isLast && sequence != 0:
		flags = NegativeSequenceNumber
		sequence = -sequence
	case isLast:
		flags = LastPacketNoSequence
	case sequence > 0:
		flags = PositiveSequenceNumber
	default:
		flags = NoSequenceNumber
	}

	return &Message{
		Header:      NewHeader(AudioOnlyRequest, flags, NoSerialization, compression),
		Sequence:    sequence,
		PayloadSize: uint32(len(audio)),
		Payload:     audio,
	}
}

func (m *Message) IsLastPacket() bool {
	switch m.Header.Flags & 0b0011 {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	default:
		return false
	}
}

func (m *Message) IsError() bool { return m.Header.MessageType == ErrorMessage }

func eventSkipsSessionID(e EventType) bool {
	switch e {
	case EventStartConnection, EventFinishConnection, EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func eventHasConnectID(e EventType) bool {
	switch e {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	default:
		return false
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	buf.Write(b)
}

func readUint32(r io.Reader) (uint32, error) {
	b := make([]byte, 4)
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	if len(data) > 0 {
		buf.Write(data)
	}
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
