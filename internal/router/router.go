// Package router implements the transfer-target detector: a pure function
// over compiled regular expressions, never consulting the LLM, in the
// spirit of the teacher's deterministic keyword matchers but applied to
// agent-transfer phrases instead of emotion words.
package router

import "regexp"

var toAliceRe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)transfer.*alice`),
	regexp.MustCompile(`(?i)(let me |can i )?talk to alice`),
	regexp.MustCompile(`(?i)bring (in )?alice`),
	regexp.MustCompile(`(?i)switch.*alice`),
	regexp.MustCompile(`(?i)(go )?(back )?to alice`),
}

var toBobRe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(go )?back.*bob`),
	regexp.MustCompile(`(?i)switch.*bob`),
	regexp.MustCompile(`(?i)(let me |can i )?talk to bob`),
	regexp.MustCompile(`(?i)transfer.*bob`),
	regexp.MustCompile(`(?i)bring (in )?bob`),
}

// Target is the detected transfer destination, or "" for no transfer.
type Target string

const (
	None  Target = ""
	Bob   Target = "bob"
	Alice Target = "alice"
)

// Route inspects utterance for an explicit transfer request and returns the
// requested target. It returns None when no pattern matches, when the
// matched target equals currentAgent (no-op self-transfer), or when the
// utterance matches both target patterns (ambiguous). Route is a pure
// function of its inputs: route(route(x)) is not meaningful to iterate
// (its output is a Target, not an utterance), but calling Route twice with
// the same arguments always yields the same Target — it is deterministic
// and idempotent in that sense.
func Route(utterance string, currentAgent string) Target {
	matchesAlice := matchesAny(toAliceRe, utterance)
	matchesBob := matchesAny(toBobRe, utterance)

	if matchesAlice && matchesBob {
		return None
	}

	var target Target
	switch {
	case matchesAlice:
		target = Alice
	case matchesBob:
		target = Bob
	default:
		return None
	}

	if string(target) == currentAgent {
		return None
	}
	return target
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
