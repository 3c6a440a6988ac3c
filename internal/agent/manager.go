// Package agent holds the two persona records, prompt assembly and the
// handoff-note mechanics that make an in-session transfer feel seamless.
package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/state"
)

// Manager owns persona lookups, prompt assembly and the current-agent
// pointer a session transfers between.
type Manager struct {
	store   persona.Store
	current string
}

// NewManager starts with startAgent as the active persona (Bob, at
// session start).
func NewManager(store persona.Store, startAgent string) *Manager {
	return &Manager{store: store, current: startAgent}
}

// Current returns the active persona id.
func (m *Manager) Current() string { return m.current }

// Switch sets the active persona and returns it. It does not touch
// agent_seen; the caller (the session, via the state store) owns that.
func (m *Manager) Switch(target string) string {
	if _, ok := m.store.FindByID(target); !ok {
		return m.current
	}
	m.current = target
	return m.current
}

// BuildMessages assembles the ordered message list for one LLM call:
// persona system prompt, context system message, optional handoff-note
// system message, then the user message.
func (m *Manager) BuildMessages(snapshot state.Snapshot, currentAgent, userText string, note *HandoffNote) ([]adapter.Message, error) {
	p, ok := m.store.FindByID(currentAgent)
	if !ok {
		return nil, fmt.Errorf("agent: unknown persona %q", currentAgent)
	}

	systemPrompt := p.SystemPrompt
	if snapshot.AgentSeen[p.ID] {
		systemPrompt += "\n\nThe user has already met you in this session. Do not reintroduce yourself or repeat your greeting."
	}

	contextMsg, err := renderContextMessage(snapshot)
	if err != nil {
		return nil, err
	}

	messages := []adapter.Message{
		{Role: adapter.RoleSystem, Text: systemPrompt},
		{Role: adapter.RoleSystem, Text: contextMsg},
	}
	if note != nil {
		messages = append(messages, adapter.Message{Role: adapter.RoleSystem, Text: note.Render()})
	}
	messages = append(messages, adapter.Message{Role: adapter.RoleUser, Text: userText})
	return messages, nil
}

func renderContextMessage(snapshot state.Snapshot) (string, error) {
	projectJSON, err := json.Marshal(snapshot.Project)
	if err != nil {
		return "", fmt.Errorf("agent: marshal project context: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project state (JSON): %s\n", projectJSON)
	fmt.Fprintf(&b, "Summary: %s\n", snapshot.Summary)
	if len(snapshot.OpenQuestions) > 0 {
		fmt.Fprintf(&b, "Open questions: %s\n", strings.Join(snapshot.OpenQuestions, "; "))
	}
	if len(snapshot.Risks) > 0 {
		fmt.Fprintf(&b, "Known risks: %s\n", strings.Join(snapshot.Risks, "; "))
	}
	if len(snapshot.RecentTranscript) > 0 {
		b.WriteString("Recent transcript:\n")
		for _, entry := range snapshot.RecentTranscript {
			fmt.Fprintf(&b, "%s: %s\n", entry.Speaker, entry.Text)
		}
	}
	b.WriteString("Keep replies concise and actionable. Do not give licensed-professional advice (legal, " +
		"structural engineering sign-off, or electrical/plumbing code certification) — describe tradeoffs " +
		"and recommend consulting a licensed professional instead.")
	return b.String(), nil
}

// AcknowledgementText is the short sentence the current persona speaks, in
// its own voice, immediately before handing off to target.
func AcknowledgementText(targetAgentID, targetAgentName string) string {
	if targetAgentID == persona.Alice {
		return fmt.Sprintf("Bringing %s in — she can help with the technical details.", targetAgentName)
	}
	return fmt.Sprintf("Bringing %s back in — he can help with the overall plan.", targetAgentName)
}
