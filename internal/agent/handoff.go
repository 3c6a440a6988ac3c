package agent

import (
	"fmt"
	"strings"

	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/state"
)

// HandoffNote is the transient, one-turn prompt addendum given to the
// incoming persona on a transfer. It is rendered into exactly one
// build_messages call and then discarded.
type HandoffNote struct {
	WhatWeKnow       string
	OpenQuestions    []string
	KnownRisks       []string
	LastUserMessage  string
	RecommendedFocus string
}

// recommendedFocus is the short templated sentence a handoff note carries,
// keyed by the incoming persona.
func recommendedFocus(target string) string {
	switch target {
	case persona.Alice:
		return "address technical risks, permits, sequencing and material trade-offs"
	case persona.Bob:
		return "produce a homeowner-friendly checklist and next steps"
	default:
		return "continue the conversation"
	}
}

// BuildHandoffNote is the pure function the spec calls handoff_note: it
// never mutates the snapshot or session state.
func BuildHandoffNote(snapshot state.Snapshot, lastUserText, target string) HandoffNote {
	return HandoffNote{
		WhatWeKnow:       describeProject(snapshot.Project),
		OpenQuestions:    snapshot.OpenQuestions,
		KnownRisks:       snapshot.Risks,
		LastUserMessage:  lastUserText,
		RecommendedFocus: recommendedFocus(target),
	}
}

func describeProject(p state.Project) string {
	room := p.Room
	if room == "" {
		room = "an unspecified space"
	}
	budget := p.Budget
	if budget == "" {
		budget = "unspecified"
	}
	timeline := p.Timeline
	if timeline == "" {
		timeline = "unspecified"
	}
	goals := "none noted"
	if len(p.Goals) > 0 {
		goals = strings.Join(p.Goals, ", ")
	}
	return fmt.Sprintf("room=%s, budget=%s, timeline=%s, goals=%s", room, budget, timeline, goals)
}

// Render renders the note into the exact system-message text
// build_messages attaches, including the non-reintroduction directive.
func (n HandoffNote) Render() string {
	var b strings.Builder
	b.WriteString("Handoff summary:\n")
	fmt.Fprintf(&b, "what we know: %s\n", n.WhatWeKnow)
	if len(n.OpenQuestions) > 0 {
		fmt.Fprintf(&b, "open questions: %s\n", strings.Join(n.OpenQuestions, "; "))
	}
	if len(n.KnownRisks) > 0 {
		fmt.Fprintf(&b, "known risks: %s\n", strings.Join(n.KnownRisks, "; "))
	}
	if n.LastUserMessage != "" {
		fmt.Fprintf(&b, "last user message: %q\n", n.LastUserMessage)
	}
	fmt.Fprintf(&b, "recommended focus: %s\n", n.RecommendedFocus)
	b.WriteString("Continue immediately. Do not reintroduce yourself.")
	return b.String()
}
