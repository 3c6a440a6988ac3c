package agent

import (
	"strings"
	"testing"

	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/state"
)

func newTestManager() *Manager {
	store := persona.NewMemoryStore(persona.Seed())
	return NewManager(store, persona.Bob)
}

func TestBuildMessagesOrdersPersonaContextHandoffUser(t *testing.T) {
	m := newTestManager()
	conv := state.New(nil)
	conv.UpdateFromUser("I'm renovating my kitchen, budget is $25k")
	snapshot := conv.RenderContext()

	note := BuildHandoffNote(snapshot, "Transfer me to Alice", persona.Alice)
	messages, err := m.BuildMessages(snapshot, persona.Alice, "Transfer me to Alice", &note)
	if err != nil {
		t.Fatalf("BuildMessages: %v", err)
	}
	if len(messages) < 4 {
		t.Fatalf("expected at least 4 messages, got %d", len(messages))
	}
	if !strings.Contains(messages[0].Text, "Alice") {
		t.Errorf("first message should be Alice's persona prompt, got %q", messages[0].Text)
	}
	if !strings.Contains(messages[1].Text, "kitchen") {
		t.Errorf("context message should mention project facts, got %q", messages[1].Text)
	}
	if !strings.Contains(messages[2].Text, "Do not reintroduce yourself") {
		t.Errorf("third message should be the handoff note, got %q", messages[2].Text)
	}
	last := messages[len(messages)-1]
	if last.Text != "Transfer me to Alice" {
		t.Errorf("last message should be the user text, got %q", last.Text)
	}
}

func TestBuildMessagesOmitsHandoffNoteWhenNil(t *testing.T) {
	m := newTestManager()
	conv := state.New(nil)
	snapshot := conv.RenderContext()

	messages, err := m.BuildMessages(snapshot, persona.Bob, "hello", nil)
	if err != nil {
		t.Fatalf("BuildMessages: %v", err)
	}
	for _, msg := range messages {
		if strings.Contains(msg.Text, "Handoff summary") {
			t.Fatalf("no handoff note should be present, got %q", msg.Text)
		}
	}
}

func TestBuildMessagesAddsNoReintroductionWhenAgentSeen(t *testing.T) {
	m := newTestManager()
	conv := state.New(nil)
	conv.MarkAgentSeen(persona.Bob)
	snapshot := conv.RenderContext()

	messages, err := m.BuildMessages(snapshot, persona.Bob, "hello again", nil)
	if err != nil {
		t.Fatalf("BuildMessages: %v", err)
	}
	if !strings.Contains(messages[0].Text, "already met you") {
		t.Errorf("persona prompt should carry the no-reintroduction directive, got %q", messages[0].Text)
	}
}

func TestSwitchUpdatesCurrentAgentOnly(t *testing.T) {
	m := newTestManager()
	if got := m.Switch(persona.Alice); got != persona.Alice {
		t.Fatalf("Switch returned %q, want alice", got)
	}
	if m.Current() != persona.Alice {
		t.Fatalf("Current() = %q, want alice", m.Current())
	}
}

func TestSwitchToUnknownPersonaIsNoOp(t *testing.T) {
	m := newTestManager()
	if got := m.Switch("charlie"); got != persona.Bob {
		t.Fatalf("Switch to unknown persona should be a no-op, got %q", got)
	}
}

func TestHandoffNoteRecommendedFocusIsTargetSpecific(t *testing.T) {
	snapshot := state.New(nil).RenderContext()
	aliceNote := BuildHandoffNote(snapshot, "x", persona.Alice)
	bobNote := BuildHandoffNote(snapshot, "x", persona.Bob)

	if !strings.Contains(aliceNote.RecommendedFocus, "technical") {
		t.Errorf("alice focus should mention technical risks, got %q", aliceNote.RecommendedFocus)
	}
	if !strings.Contains(bobNote.RecommendedFocus, "checklist") {
		t.Errorf("bob focus should mention checklist, got %q", bobNote.RecommendedFocus)
	}
}
