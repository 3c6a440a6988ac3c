package turn

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/agent"
	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/state"
	"github.com/duoagent/voicebridge/pkg/protocol"
)

type fakeTokenStream struct {
	tokens []string
	i      int
}

func (s *fakeTokenStream) Recv(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", true, err
	}
	if s.i >= len(s.tokens) {
		return "", true, nil
	}
	t := s.tokens[s.i]
	s.i++
	return t, false, nil
}

func (s *fakeTokenStream) Close() {}

type fakeLLM struct {
	tokens []string
}

func (f *fakeLLM) Stream(ctx context.Context, messages []adapter.Message, modelName string, maxTokens *int) (adapter.TokenStream, error) {
	return &fakeTokenStream{tokens: f.tokens}, nil
}

type fakeAudioStream struct{ sent bool }

func (s *fakeAudioStream) Recv(ctx context.Context) (adapter.AudioChunk, error) {
	if s.sent {
		return adapter.AudioChunk{Final: true}, nil
	}
	s.sent = true
	return adapter.AudioChunk{Data: []byte("audio"), Final: true}, nil
}

func (s *fakeAudioStream) Close() error { return nil }

type fakeTTS struct{}

func (fakeTTS) Synthesize(ctx context.Context, text, personaID string) (adapter.AudioStream, error) {
	return &fakeAudioStream{}, nil
}

type fakeModeration struct {
	blockText string
}

func (m fakeModeration) Check(ctx context.Context, text string) adapter.ModerationResult {
	if m.blockText != "" && text == m.blockText {
		return adapter.ModerationResult{Blocked: true, Reason: "test block"}
	}
	return adapter.ModerationResult{Blocked: false}
}

func testDeps(llm adapter.LLM, moderation adapter.Moderation) Deps {
	store := persona.NewMemoryStore(persona.Seed())
	return Deps{
		TTS:        fakeTTS{},
		LLM:        llm,
		Moderation: moderation,
		Agents:     agent.NewManager(store, persona.Bob),
		Personas:   store,
		Conv:       state.New(nil),
		ModelName:  "test-model",
		Log:        zerolog.Nop(),
	}
}

func collectEvents(events *[]any) Sender {
	return func(event any) error {
		*events = append(*events, event)
		return nil
	}
}

func TestRunTextInputGeneratesAndCommits(t *testing.T) {
	var events []any
	deps := testDeps(&fakeLLM{tokens: []string{"All ", "set.", " Thanks."}}, fakeModeration{})
	p := New(deps, collectEvents(&events), "t1")

	playback := make(chan struct{}, 1)
	playback <- struct{}{}

	phase, checkpoint := p.Run(context.Background(), persona.Bob, Input{Kind: KindText, Text: "hello there"}, playback)
	if phase != PhaseDone {
		t.Fatalf("phase = %v, want Done", phase)
	}
	if checkpoint != "" {
		t.Fatalf("checkpoint = %q, want empty on a committed turn", checkpoint)
	}

	entries := deps.Conv.RenderContext().RecentTranscript
	if len(entries) != 2 {
		t.Fatalf("expected 2 transcript entries after commit, got %d", len(entries))
	}
}

func TestRunEmptyTextInputEndsImmediately(t *testing.T) {
	var events []any
	deps := testDeps(&fakeLLM{}, fakeModeration{})
	p := New(deps, collectEvents(&events), "t1")

	phase, _ := p.Run(context.Background(), persona.Bob, Input{Kind: KindText, Text: "   "}, make(chan struct{}))
	if phase != PhaseDone {
		t.Fatalf("phase = %v, want Done for empty input", phase)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for empty input, got %d", len(events))
	}
}

func TestRunBlockedByModerationOnUserText(t *testing.T) {
	var events []any
	deps := testDeps(&fakeLLM{tokens: []string{"unused"}}, fakeModeration{blockText: "dangerous text"})
	p := New(deps, collectEvents(&events), "t1")

	phase, _ := p.Run(context.Background(), persona.Bob, Input{Kind: KindText, Text: "dangerous text"}, make(chan struct{}))
	if phase != PhaseBlocked {
		t.Fatalf("phase = %v, want Blocked", phase)
	}
	blocked := false
	for _, e := range events {
		if _, ok := e.(*protocol.GuardrailBlocked); ok {
			blocked = true
		}
	}
	if !blocked {
		t.Fatalf("expected a guardrail_blocked event, got %v", events)
	}

	entries := deps.Conv.RenderContext().RecentTranscript
	if len(entries) != 0 {
		t.Fatalf("expected the transcript tail unchanged on a blocked turn, got %+v", entries)
	}
}

func TestRunTransferSwitchesAgentAndEmitsAgentChange(t *testing.T) {
	var events []any
	deps := testDeps(&fakeLLM{tokens: []string{"Sure, I can help with that."}}, fakeModeration{})
	p := New(deps, collectEvents(&events), "t1")

	playback := make(chan struct{}, 1)
	playback <- struct{}{}

	phase, _ := p.Run(context.Background(), persona.Bob, Input{Kind: KindText, Text: "please bring in alice"}, playback)
	if phase != PhaseDone {
		t.Fatalf("phase = %v, want Done", phase)
	}
	if deps.Agents.Current() != persona.Alice {
		t.Fatalf("current agent = %q, want alice after transfer", deps.Agents.Current())
	}

	agentChangeAt, firstTTSChunkAt := -1, -1
	for i, e := range events {
		switch e.(type) {
		case *protocol.AgentChange:
			if agentChangeAt == -1 {
				agentChangeAt = i
			}
		case *protocol.TTSChunk:
			if firstTTSChunkAt == -1 {
				firstTTSChunkAt = i
			}
		}
	}
	if agentChangeAt == -1 {
		t.Fatalf("expected an agent_change event, got %v", events)
	}
	if firstTTSChunkAt != -1 && agentChangeAt > firstTTSChunkAt {
		t.Fatalf("agent_change (index %d) should precede the first tts_chunk (index %d)", agentChangeAt, firstTTSChunkAt)
	}
}

// cancelAfterOneTokenStream yields one token, then cancels its own context
// and reports it as cancelled, simulating a barge-in arriving mid-stream.
type cancelAfterOneTokenStream struct {
	token  string
	cancel context.CancelFunc
	sent   bool
}

func (s *cancelAfterOneTokenStream) Recv(ctx context.Context) (string, bool, error) {
	if !s.sent {
		s.sent = true
		return s.token, false, nil
	}
	s.cancel()
	return "", true, context.Canceled
}

func (s *cancelAfterOneTokenStream) Close() {}

type cancelAfterOneLLM struct {
	token  string
	cancel context.CancelFunc
}

func (f *cancelAfterOneLLM) Stream(ctx context.Context, messages []adapter.Message, modelName string, maxTokens *int) (adapter.TokenStream, error) {
	return &cancelAfterOneTokenStream{token: f.token, cancel: f.cancel}, nil
}

func TestRunCancelledDuringGenerationReturnsCheckpoint(t *testing.T) {
	var events []any
	ctx, cancel := context.WithCancel(context.Background())
	deps := testDeps(&cancelAfterOneLLM{token: "partial reply before cancel", cancel: cancel}, fakeModeration{})
	p := New(deps, collectEvents(&events), "t1")

	phase, checkpoint := p.Run(ctx, persona.Bob, Input{Kind: KindText, Text: "hello"}, make(chan struct{}))
	if phase != PhaseCancelled {
		t.Fatalf("phase = %v, want Cancelled", phase)
	}
	if checkpoint != "partial reply before cancel" {
		t.Fatalf("checkpoint = %q, want the partial reply text", checkpoint)
	}
}

func TestAtSentenceBoundary(t *testing.T) {
	cases := []struct {
		buf  string
		want bool
	}{
		{"hello.", true},
		{"hello?", true},
		{"hello!", true},
		{"hello\n", true},
		{"hello there", false},
		{"", false},
	}
	for _, c := range cases {
		if got := atSentenceBoundary(c.buf); got != c.want {
			t.Errorf("atSentenceBoundary(%q) = %v, want %v", c.buf, got, c.want)
		}
	}
}

