package session

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/state"
)

func newTestSession() *Session {
	return &Session{
		id:       "test-session",
		log:      zerolog.Nop(),
		outbound: make(chan []byte, outboundQueueCapacity),
	}
}

func TestHandleAudioChunkDropsDuringDeafnessWindow(t *testing.T) {
	s := newTestSession()
	s.deafUntil = time.Now().Add(deafnessWindow)

	raw, _ := json.Marshal(map[string]string{"type": "audio_chunk", "data": base64.StdEncoding.EncodeToString([]byte("pcm"))})
	s.handleAudioChunk(nil, raw)

	if s.audioBuf != nil {
		t.Fatalf("expected audio to be dropped during the deafness window, got %d bytes", len(s.audioBuf))
	}
}

func TestHandleAudioChunkAppendsDecodedAudioOutsideDeafnessWindow(t *testing.T) {
	s := newTestSession()

	payload := []byte("pcm-bytes")
	raw, _ := json.Marshal(map[string]string{"type": "audio_chunk", "data": base64.StdEncoding.EncodeToString(payload)})
	s.handleAudioChunk(nil, raw)

	if string(s.audioBuf) != string(payload) {
		t.Fatalf("audioBuf = %q, want %q", s.audioBuf, payload)
	}
}

func TestSpeakerForMapsAgentToSpeaker(t *testing.T) {
	if got := speakerFor(persona.Alice); got != state.SpeakerAlice {
		t.Fatalf("speakerFor(alice) = %v, want SpeakerAlice", got)
	}
	if got := speakerFor(persona.Bob); got != state.SpeakerBob {
		t.Fatalf("speakerFor(bob) = %v, want SpeakerBob", got)
	}
	if got := speakerFor("unknown"); got != state.SpeakerBob {
		t.Fatalf("speakerFor(unknown) = %v, want SpeakerBob fallback", got)
	}
}

func TestResetTimerDrainsPendingFire(t *testing.T) {
	timer := time.NewTimer(time.Millisecond)
	<-timer.C // let it fire and drain naturally first

	timer.Reset(time.Millisecond)
	time.Sleep(5 * time.Millisecond) // timer has fired, C holds a value, not yet drained

	resetTimer(timer, time.Hour)

	select {
	case <-timer.C:
		t.Fatalf("resetTimer should have drained the stale fire before rescheduling")
	default:
	}
}

func TestSendEnqueuesMarshaledEvent(t *testing.T) {
	s := newTestSession()

	type testEvent struct {
		Type string `json:"type"`
	}
	if err := s.send(&testEvent{Type: "pong"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case raw := <-s.outbound:
		var decoded testEvent
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal enqueued frame: %v", err)
		}
		if decoded.Type != "pong" {
			t.Fatalf("decoded.Type = %q, want pong", decoded.Type)
		}
	default:
		t.Fatalf("expected an enqueued frame")
	}
}

func TestTurnSenderDropsEventsForCancelledTurn(t *testing.T) {
	s := newTestSession()
	sender := s.turnSender("t1")

	type testEvent struct {
		Type string `json:"type"`
	}
	if err := sender(&testEvent{Type: "llm_token"}); err != nil {
		t.Fatalf("send before cancellation should succeed: %v", err)
	}
	select {
	case <-s.outbound:
	default:
		t.Fatalf("expected the pre-cancellation event to reach the outbound queue")
	}

	s.mu.Lock()
	s.cancelledTurn = "t1"
	s.mu.Unlock()

	if err := sender(&testEvent{Type: "tts_chunk"}); err != nil {
		t.Fatalf("a dropped send should not report an error: %v", err)
	}
	select {
	case raw := <-s.outbound:
		t.Fatalf("expected no event enqueued for a cancelled turn, got %s", raw)
	default:
	}
}

func TestTurnSenderPassesThroughOtherTurns(t *testing.T) {
	s := newTestSession()
	s.cancelledTurn = "t1"
	sender := s.turnSender("t2")

	type testEvent struct {
		Type string `json:"type"`
	}
	if err := sender(&testEvent{Type: "llm_token"}); err != nil {
		t.Fatalf("send for a different turn should succeed: %v", err)
	}
	select {
	case <-s.outbound:
	default:
		t.Fatalf("expected the event for the non-cancelled turn to reach the outbound queue")
	}
}

func TestSendClosesConnectionWhenQueueFull(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-r.Context().Done()
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	s := newTestSession()
	s.outbound = make(chan []byte, 1)
	s.conn = clientConn

	type testEvent struct {
		Type string `json:"type"`
	}
	if err := s.send(&testEvent{Type: "first"}); err != nil {
		t.Fatalf("first send should succeed: %v", err)
	}
	if err := s.send(&testEvent{Type: "second"}); err == nil {
		t.Fatalf("second send should fail once the outbound queue is full")
	}
	if err := clientConn.WriteMessage(websocket.TextMessage, []byte("after close")); err == nil {
		t.Fatalf("expected the connection to be closed after the queue overflowed")
	}
}
