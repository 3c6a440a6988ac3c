// Package session owns one client websocket connection end to end: the
// inbound event demultiplexer, the bounded outbound queue, the inactivity
// nudge and deafness-window timers, and the lifecycle of the turn
// pipelines it spawns. Adapted from the teacher's
// internal/handler/speech.WebSocketHandler read/write-loop shape,
// generalized from one-shot request/response handling to the session's
// continuously-running demux plus concurrent turn pipelines.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/agent"
	"github.com/duoagent/voicebridge/internal/logging"
	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/state"
	"github.com/duoagent/voicebridge/internal/turn"
	"github.com/duoagent/voicebridge/pkg/protocol"
)

const (
	outboundQueueCapacity = 256
	inactivityTimeout     = 30 * time.Second
	deafnessWindow        = 700 * time.Millisecond
)

// Factory holds the process-wide, cross-session-safe ingredients (chat
// model, dialers, moderation, persona store) that every session wraps in
// its own circuit breaker. Built once at startup.
type Factory struct {
	ChatModel  einomodel.ChatModel
	DialSTT    func(ctx context.Context, language string) (adapter.STTSession, error)
	DialTTS    func(ctx context.Context, text, personaID string) (adapter.AudioStream, error)
	Moderation adapter.Moderation
	Personas   persona.Store
	ModelName  string
	MaxTokens  *int
}

// Adapters is the per-session set of wrapped adapters, each sharing the
// session's single circuit breaker per the spec's per-session breaker
// scope.
type Adapters struct {
	STT        adapter.STT
	TTS        adapter.TTS
	LLM        adapter.LLM
	Moderation adapter.Moderation
	Personas   persona.Store
	ModelName  string
	MaxTokens  *int
}

// newSessionAdapters builds one session's private, breaker-wrapped
// adapter set from the shared factory.
func newSessionAdapters(f Factory, breaker *adapter.CircuitBreaker) Adapters {
	return Adapters{
		STT:        adapter.NewProviderSTT(f.DialSTT, breaker),
		TTS:        adapter.NewProviderTTS(f.DialTTS, breaker),
		LLM:        adapter.NewArkLLM(f.ChatModel, breaker),
		Moderation: f.Moderation,
		Personas:   f.Personas,
		ModelName:  f.ModelName,
		MaxTokens:  f.MaxTokens,
	}
}

// Session drives one client connection.
type Session struct {
	id       string
	conn     *websocket.Conn
	adapters Adapters
	breaker  *adapter.CircuitBreaker
	agents   *agent.Manager
	conv     *state.Conversation
	log      zerolog.Logger

	outbound  chan []byte
	writeDone chan struct{}

	mu            sync.Mutex
	activeCancel  context.CancelFunc
	activeTurnID  string
	cancelledTurn string
	playbackCh    chan struct{}
	deafUntil     time.Time
	audioBuf      []byte
}

// New builds a Session bound to an already-upgraded connection. Each
// session gets its own circuit breaker, shared across its STT/TTS/LLM
// adapters, per the spec's per-session breaker scope.
func New(conn *websocket.Conn, factory Factory, log zerolog.Logger) *Session {
	breaker := adapter.NewCircuitBreaker(nil)
	adapters := newSessionAdapters(factory, breaker)
	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		adapters:  adapters,
		breaker:   breaker,
		agents:    agent.NewManager(factory.Personas, persona.Bob),
		conv:      state.New(nil),
		log:       log,
		outbound:  make(chan []byte, outboundQueueCapacity),
		writeDone: make(chan struct{}),
	}
}

// Run owns the connection until the read loop exits (client disconnect,
// protocol error, or backpressure close) or ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	ctx = logging.WithSession(ctx, s.id)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writeLoop(ctx)

	if err := s.greet(ctx); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("session: greeting failed")
	}

	inactivity := time.NewTimer(inactivityTimeout)
	defer inactivity.Stop()
	go s.inactivityLoop(ctx, inactivity)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			logger := logging.FromContext(ctx)
			logger.Info().Err(err).Msg("session: read loop exiting")
			return
		}
		resetTimer(inactivity, inactivityTimeout)
		if !s.handleFrame(ctx, raw) {
			logger := logging.FromContext(ctx)
			logger.Warn().Msg("session: closing on unparseable envelope")
			s.conn.Close()
			return
		}
	}
}

// handleFrame dispatches one inbound frame and reports whether the
// session should stay open. An envelope that isn't even valid JSON is
// unparseable and fatal; a parseable envelope with an unknown or missing
// type is logged and dropped but not fatal.
func (s *Session) handleFrame(ctx context.Context, raw []byte) bool {
	typ, err := protocol.TypeOf(raw)
	if err != nil {
		if !json.Valid(raw) {
			return false
		}
		logger := logging.FromContext(ctx)
		logger.Debug().Err(err).Msg("session: dropping malformed frame")
		return true
	}

	switch typ {
	case protocol.InPing:
		s.send(&protocol.Pong{Type: protocol.OutPong})

	case protocol.InAudioChunk:
		s.handleAudioChunk(ctx, raw)

	case protocol.InEndOfAudio:
		pcm := s.audioBuf
		s.audioBuf = nil
		s.startTurn(ctx, turn.Input{Kind: turn.KindAudio, PCM: pcm, Language: "en-US"})

	case protocol.InTextInput:
		var msg protocol.TextInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return true
		}
		s.startTurn(ctx, turn.Input{Kind: turn.KindText, Text: msg.Text})

	case protocol.InBargeIn:
		s.bargeIn(ctx)

	case protocol.InTTSPlaybackEnd:
		s.mu.Lock()
		ch := s.playbackCh
		s.mu.Unlock()
		if ch != nil {
			select {
			case ch <- struct{}{}:
			default:
			}
		}

	case protocol.InWebRTCOffer, protocol.InICECandidate:
		// WebRTC is a pass-through relay this service does not terminate;
		// no subsystem is wired up to forward these to, so they are
		// acknowledged by being silently accepted rather than erroring.

	default:
		logger := logging.FromContext(ctx)
		logger.Debug().Str("type", typ).Msg("session: unknown inbound type")
	}

	return true
}

func (s *Session) handleAudioChunk(ctx context.Context, raw []byte) {
	s.mu.Lock()
	deaf := !s.deafUntil.IsZero() && time.Now().Before(s.deafUntil)
	s.mu.Unlock()
	if deaf {
		return
	}

	var msg protocol.AudioChunk
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return
	}
	s.audioBuf = append(s.audioBuf, decoded...)
}

// startTurn supersedes any active turn (new-turn-supersedes-active per the
// cancellation semantics), then spawns the new one as a child task that
// runs concurrently with further inbound processing.
func (s *Session) startTurn(ctx context.Context, input turn.Input) {
	s.supersede(false)

	turnID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)
	playbackCh := make(chan struct{}, 1)

	s.mu.Lock()
	s.activeCancel = cancel
	s.activeTurnID = turnID
	s.playbackCh = playbackCh
	startAgent := s.agents.Current()
	s.mu.Unlock()

	deps := turn.Deps{
		STT:        s.adapters.STT,
		TTS:        s.adapters.TTS,
		LLM:        s.adapters.LLM,
		Moderation: s.adapters.Moderation,
		Agents:     s.agents,
		Personas:   s.adapters.Personas,
		Conv:       s.conv,
		ModelName:  s.adapters.ModelName,
		MaxTokens:  s.adapters.MaxTokens,
		Log:        s.log,
	}
	pipeline := turn.New(deps, s.turnSender(turnID), turnID)

	go func() {
		phase, checkpoint := pipeline.Run(turnCtx, startAgent, input, playbackCh)
		s.onTurnFinished(turnID, cancel, phase, checkpoint)
	}()
}

func (s *Session) onTurnFinished(turnID string, cancel context.CancelFunc, phase turn.Phase, checkpoint string) {
	cancel()

	s.mu.Lock()
	if s.activeTurnID == turnID {
		s.activeCancel = nil
		s.activeTurnID = ""
		s.playbackCh = nil
	}
	s.mu.Unlock()
	s.armDeafWindow()

	if phase == turn.PhaseCancelled && checkpoint != "" {
		s.conv.AppendTurn(speakerFor(s.agents.Current()), checkpoint)
		s.send(&protocol.CheckpointSaved{Type: protocol.OutCheckpointSaved, Partial: checkpoint})
	}
}

// bargeIn cancels the active turn, if any, and acks immediately — the
// actual checkpoint commit happens asynchronously once the cancelled
// pipeline unwinds and reports its partial reply via onTurnFinished.
// cancelledTurn is set before the ack goes out so that no llm_token/
// tts_chunk for this turn can reach the outbound queue after the ack,
// even though the pipeline goroutine only observes ctx.Done()
// cooperatively at its next check.
func (s *Session) bargeIn(ctx context.Context) {
	s.mu.Lock()
	cancel := s.activeCancel
	turnID := s.activeTurnID
	if turnID != "" {
		s.cancelledTurn = turnID
	}
	s.mu.Unlock()
	s.armDeafWindow()

	if cancel == nil {
		return
	}
	cancel()
	s.send(&protocol.BargeInAck{Type: protocol.OutBargeInAck, Meta: protocol.Meta{TurnID: turnID}})
}

// turnSender wraps send so that once bargeIn has acked a cancellation for
// turnID, any further event the pipeline tries to emit for that same turn
// is dropped instead of reaching the outbound queue.
func (s *Session) turnSender(turnID string) turn.Sender {
	return func(event any) error {
		// Holding mu across the enqueue orders it against bargeIn's
		// update of cancelledTurn, so the ack is never overtaken.
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cancelledTurn == turnID {
			return nil
		}
		return s.send(event)
	}
}

// armDeafWindow sets deaf_until to now + the deafness window, guarding
// against the server transcribing its own TTS output as mic echo. Called
// after any TTS stream ends (greeting, nudge, a committed turn) and after
// a barge-in.
func (s *Session) armDeafWindow() {
	s.mu.Lock()
	s.deafUntil = time.Now().Add(deafnessWindow)
	s.mu.Unlock()
}

func (s *Session) supersede(bargeIn bool) {
	s.mu.Lock()
	cancel := s.activeCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) greet(ctx context.Context) error {
	bob, ok := s.adapters.Personas.FindByID(persona.Bob)
	if !ok {
		return fmt.Errorf("session: bob persona not registered")
	}
	if err := s.send(&protocol.Connected{Type: protocol.OutConnected, Agent: bob.ID}); err != nil {
		return err
	}

	s.conv.MarkAgentSeen(persona.Bob)
	s.conv.AppendTurn(state.SpeakerSystem, bob.Greeting)

	if err := turn.SpeakText(ctx, s.adapters.TTS, s.send, bob.Greeting, bob.ID, ""); err != nil {
		return err
	}
	s.armDeafWindow()
	return s.send(&protocol.TTSDone{Type: protocol.OutTTSDone})
}

// inactivityLoop fires a canned, non-LLM nudge utterance after 30s of no
// user event while no turn is active. The read loop resets the timer on
// every inbound frame.
func (s *Session) inactivityLoop(ctx context.Context, timer *time.Timer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.mu.Lock()
			idle := s.activeTurnID == ""
			current := s.agents.Current()
			s.mu.Unlock()
			if idle {
				s.sendNudge(ctx, current)
			}
			resetTimer(timer, inactivityTimeout)
		}
	}
}

func (s *Session) sendNudge(ctx context.Context, agentID string) {
	p, ok := s.adapters.Personas.FindByID(agentID)
	if !ok {
		return
	}
	const nudgeText = "Still there? Let me know if you'd like to keep going."
	if err := turn.SpeakText(ctx, s.adapters.TTS, s.send, nudgeText, p.ID, ""); err != nil {
		logger := logging.FromContext(ctx)
		logger.Debug().Err(err).Msg("session: inactivity nudge failed")
		return
	}
	s.armDeafWindow()
	s.send(&protocol.TTSDone{Type: protocol.OutTTSDone})
}

// send marshals event and enqueues it for the write loop. If the queue is
// full the session treats the client as stalled and closes the
// connection, per the backpressure policy.
func (s *Session) send(event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("session: marshal outbound event: %w", err)
	}
	select {
	case s.outbound <- raw:
		return nil
	default:
		s.log.Error().Str("session_id", s.id).Msg("session: outbound queue full, closing stalled connection")
		s.conn.Close()
		return fmt.Errorf("session: outbound queue full")
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	defer close(s.writeDone)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-s.outbound:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger := logging.FromContext(ctx)
				logger.Info().Err(err).Msg("session: write failed, closing")
				return
			}
		}
	}
}

func speakerFor(agentID string) state.Speaker {
	if agentID == persona.Alice {
		return state.SpeakerAlice
	}
	return state.SpeakerBob
}

func resetTimer(t *time.Timer, d time.Duration) {
	t.Stop()
	select {
	case <-t.C:
	default:
	}
	t.Reset(d)
}
