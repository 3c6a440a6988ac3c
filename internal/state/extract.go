package state

import (
	"fmt"
	"regexp"
	"strings"
)

// roomVocabulary is the small fixed vocabulary scanned for a room mention,
// in the same keyword-bucket style as the teacher's emotion analyzer.
var roomVocabulary = []string{
	"kitchen", "bathroom", "bedroom", "living room", "basement", "garage",
	"attic", "laundry room", "dining room", "home office",
}

var (
	budgetDollarRe   = regexp.MustCompile(`(?i)\$\d+(k|,\d{3})?`)
	budgetWordRe     = regexp.MustCompile(`(?i)\d+\s?(k|thousand|dollars)`)
	timelineRe       = regexp.MustCompile(`(?i)\d+\s?(days?|weeks?|months?)`)
	diyKeywords      = []string{"myself", "diy", "contractor", "hiring"}
	riskVocabulary   = []string{"load-bearing", "permit", "inspection", "asbestos", "electrical panel", "structural"}
	goalVerbPhraseRe = regexp.MustCompile(`(?i)\b(new|open up|replace|remove|add|install|redo|retile|repaint)\s+[a-z][a-z '-]{1,40}`)
)

// extractRoom returns the first recognized room mention, lowercased.
func extractRoom(text string) string {
	normalized := strings.ToLower(text)
	for _, room := range roomVocabulary {
		if strings.Contains(normalized, room) {
			return room
		}
	}
	return ""
}

// extractBudget returns the first matched budget literal, verbatim.
func extractBudget(text string) string {
	if m := budgetDollarRe.FindString(text); m != "" {
		return m
	}
	if m := budgetWordRe.FindString(text); m != "" {
		return m
	}
	return ""
}

// extractTimeline returns the first matched timeline literal, verbatim.
func extractTimeline(text string) string {
	return timelineRe.FindString(text)
}

// extractDIYOrContractor returns the first DIY/contractor keyword found,
// lowercased.
func extractDIYOrContractor(text string) string {
	normalized := strings.ToLower(text)
	for _, kw := range diyKeywords {
		if strings.Contains(normalized, kw) {
			return kw
		}
	}
	return ""
}

// extractGoals pulls short verb-noun snippets out of a user utterance,
// e.g. "new cabinets" and "countertops" out of "I want new cabinets and
// countertops".
func extractGoals(text string) []string {
	matches := goalVerbPhraseRe.FindAllString(text, -1)
	goals := make([]string, 0, len(matches))
	for _, m := range matches {
		goal := strings.TrimSpace(strings.ToLower(m))
		// The noun-phrase class is greedy enough to swallow a trailing
		// "and X" conjunct ("new cabinets and countertops"); truncate at
		// the first conjunction or comma so the verb phrase covers only
		// its own noun, and let extractAndConjuncts surface the rest.
		if idx := strings.Index(goal, " and "); idx != -1 {
			goal = goal[:idx]
		}
		if idx := strings.IndexByte(goal, ','); idx != -1 {
			goal = goal[:idx]
		}
		goal = strings.TrimSpace(goal)
		if goal != "" {
			goals = append(goals, goal)
		}
	}
	for _, conj := range extractAndConjuncts(text) {
		goals = append(goals, conj)
	}
	return goals
}

var andConjunctRe = regexp.MustCompile(`(?i)\band\s+([a-z][a-z '-]{2,30})`)

func extractAndConjuncts(text string) []string {
	out := []string{}
	for _, m := range andConjunctRe.FindAllStringSubmatch(text, -1) {
		noun := strings.TrimSpace(strings.ToLower(m[1]))
		noun = strings.TrimSuffix(noun, ".")
		if noun == "" {
			continue
		}
		out = append(out, noun)
	}
	return out
}

// extractRisks returns every risk-vocabulary phrase present in an agent
// reply, in the order the vocabulary is defined.
func extractRisks(text string) []string {
	normalized := strings.ToLower(text)
	out := []string{}
	for _, risk := range riskVocabulary {
		if strings.Contains(normalized, risk) {
			out = append(out, risk)
		}
	}
	return out
}

// renderSummary regenerates the rolling summary from the fixed template.
func renderSummary(p Project, risks []string) string {
	room := p.Room
	if room == "" {
		room = "an unspecified space"
	}
	budget := p.Budget
	if budget == "" {
		budget = "unspecified"
	}
	goals := "nothing yet"
	if len(p.Goals) > 0 {
		goals = strings.Join(p.Goals, ", ")
	}
	risksText := "none noted"
	if len(risks) > 0 {
		risksText = strings.Join(risks, ", ")
	}
	summary := fmt.Sprintf("Renovating %s, budget %s, wants: %s. risks: %s.", room, budget, goals, risksText)
	const maxLen = 240
	if len(summary) > maxLen {
		summary = summary[:maxLen]
	}
	return summary
}
