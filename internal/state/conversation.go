// Package state holds the per-session conversation memory: structured
// project facts, a rolling summary, a transcript tail and the set of
// personas the user has already met. It is pure in-memory and never shared
// across sessions, mirroring the teacher's emotion analyzer in spirit (a
// deterministic, regex/keyword pipeline) but applied to project-fact
// extraction instead of voice emotion.
package state

import (
	"strings"
	"time"
)

// NTail bounds the transcript tail retained for prompt context.
const NTail = 12

// Speaker identifies who produced a transcript-tail entry.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerBob    Speaker = "bob"
	SpeakerAlice  Speaker = "alice"
	SpeakerSystem Speaker = "system"
)

// TranscriptEntry is one verbatim turn retained for prompt context.
type TranscriptEntry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Project holds the structured facts extracted about the renovation.
type Project struct {
	Room            string
	Budget          string
	Timeline        string
	DIYOrContractor string
	Goals           []string
	Constraints     []string
}

// Conversation is the per-session state store. Zero value is not usable;
// use New.
type Conversation struct {
	project            Project
	openQuestions      []string
	risks              []string
	decisions          []string
	materialsDiscussed []string
	summary            string
	transcriptTail     []TranscriptEntry
	agentSeen          map[string]bool

	now func() time.Time
}

// New builds an empty Conversation. nowFn lets tests control timestamps;
// pass nil to use time.Now.
func New(nowFn func() time.Time) *Conversation {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Conversation{
		agentSeen: make(map[string]bool),
		now:       nowFn,
	}
}

// AppendTurn appends one verbatim entry to the transcript tail, evicting
// the oldest entry if the tail would exceed NTail.
func (c *Conversation) AppendTurn(speaker Speaker, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.transcriptTail = append(c.transcriptTail, TranscriptEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: c.now(),
	})
	if overflow := len(c.transcriptTail) - NTail; overflow > 0 {
		c.transcriptTail = c.transcriptTail[overflow:]
	}
}

// MarkAgentSeen records that agentID has greeted the user in this session.
// Once added, a persona is never removed from agent_seen.
func (c *Conversation) MarkAgentSeen(agentID string) {
	c.agentSeen[agentID] = true
}

// HasSeenAgent reports whether agentID has already greeted the user.
func (c *Conversation) HasSeenAgent(agentID string) bool {
	return c.agentSeen[agentID]
}

// UpdateFromUser runs the deterministic extractors against a user
// utterance and folds any recognized facts into project/goals, then
// regenerates the rolling summary.
func (c *Conversation) UpdateFromUser(text string) {
	if room := extractRoom(text); room != "" && c.project.Room == "" {
		c.project.Room = room
	}
	if budget := extractBudget(text); budget != "" && c.project.Budget == "" {
		c.project.Budget = budget
	}
	if timeline := extractTimeline(text); timeline != "" && c.project.Timeline == "" {
		c.project.Timeline = timeline
	}
	if diy := extractDIYOrContractor(text); diy != "" && c.project.DIYOrContractor == "" {
		c.project.DIYOrContractor = diy
	}
	for _, g := range extractGoals(text) {
		c.project.Goals = appendDedupCI(c.project.Goals, g, 8)
	}
	c.regenerateSummary()
}

// UpdateFromAgent scans an agent reply for risk-bearing phrases and folds
// them into the risks set, then regenerates the rolling summary.
func (c *Conversation) UpdateFromAgent(text string) {
	for _, r := range extractRisks(text) {
		c.risks = appendDedupCI(c.risks, r, 0)
	}
	c.regenerateSummary()
}

func (c *Conversation) regenerateSummary() {
	c.summary = renderSummary(c.project, c.risks)
}

// AddOpenQuestion / AddDecision / AddMaterialDiscussed let the turn
// pipeline record ancillary ordered-set facts beyond the user/agent
// extractors; they dedupe case-insensitively like every other set here.
func (c *Conversation) AddOpenQuestion(q string) { c.openQuestions = appendDedupCI(c.openQuestions, q, 0) }
func (c *Conversation) AddDecision(d string)     { c.decisions = appendDedupCI(c.decisions, d, 0) }
func (c *Conversation) AddMaterialDiscussed(m string) {
	c.materialsDiscussed = appendDedupCI(c.materialsDiscussed, m, 0)
}

// Snapshot is the frozen render used to build LLM prompts and
// state_update events. It never aliases the Conversation's internal
// slices, so callers cannot mutate state store internals through it.
type Snapshot struct {
	Project          Project
	OpenQuestions    []string
	Risks            []string
	Decisions        []string
	Materials        []string
	Summary          string
	RecentTranscript []TranscriptEntry
	AgentSeen        map[string]bool
}

// RenderContext returns a frozen snapshot of the current state, safe to
// hand to a different goroutine (e.g. the prompt builder) without locking.
func (c *Conversation) RenderContext() Snapshot {
	seen := make(map[string]bool, len(c.agentSeen))
	for k, v := range c.agentSeen {
		seen[k] = v
	}
	project := c.project
	project.Goals = append([]string(nil), c.project.Goals...)
	project.Constraints = append([]string(nil), c.project.Constraints...)
	return Snapshot{
		Project:          project,
		OpenQuestions:    append([]string(nil), c.openQuestions...),
		Risks:            append([]string(nil), c.risks...),
		Decisions:        append([]string(nil), c.decisions...),
		Materials:        append([]string(nil), c.materialsDiscussed...),
		Summary:          c.summary,
		RecentTranscript: append([]TranscriptEntry(nil), c.transcriptTail...),
		AgentSeen:        seen,
	}
}

// appendDedupCI appends value to set unless an entry already matches
// case-insensitively, preserving insertion order. If max > 0 the set is
// capped at max entries (oldest kept, new entries past the cap dropped).
func appendDedupCI(set []string, value string, max int) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return set
	}
	lower := strings.ToLower(value)
	for _, existing := range set {
		if strings.ToLower(existing) == lower {
			return set
		}
	}
	if max > 0 && len(set) >= max {
		return set
	}
	return append(set, value)
}
