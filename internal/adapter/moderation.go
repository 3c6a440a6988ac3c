package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ModerationResult is the outcome of a Moderation.check call.
type ModerationResult struct {
	Blocked bool
	Reason  string
}

// Moderation is the narrow contract §4.1 describes: fast, and degrades to
// a local predicate on provider failure.
type Moderation interface {
	Check(ctx context.Context, text string) ModerationResult
}

// blocklist is the deterministic fallback predicate. It intentionally
// covers only clearly unsafe categories; the LLM classifier is expected to
// catch subtler policy violations when enabled.
var blocklist = []string{
	"build a bomb", "make a bomb", "kill myself", "how to hurt", "detailed self-harm",
}

// BlocklistCheck is the standalone deterministic fallback. Check uses it
// whenever the LLM classifier is disabled (GUARDRAIL_ENABLED governs
// whether the classifier is constructed at all) and whenever a classifier
// call fails or returns unparseable output; when the classifier answers,
// its verdict is used and the blocklist is not consulted.
func BlocklistCheck(text string) ModerationResult {
	normalized := strings.ToLower(text)
	for _, phrase := range blocklist {
		if strings.Contains(normalized, phrase) {
			return ModerationResult{Blocked: true, Reason: fmt.Sprintf("matched blocked phrase %q", phrase)}
		}
	}
	return ModerationResult{Blocked: false}
}

// ClassifierModeration backs Moderation with an eino chat-model classifier,
// falling back to BlocklistCheck on any failure — the same
// classifier-primary/heuristic-fallback shape as the teacher's
// internal/service/emotion.Service, repointed from emotion inference at
// pass/block moderation.
type ClassifierModeration struct {
	enabled    bool
	classifier compose.Runnable[map[string]any, *schema.Message]
}

// NewClassifierModeration builds the classifier chain when chatModel is
// non-nil and enabled is true; otherwise Check always uses the blocklist.
func NewClassifierModeration(ctx context.Context, chatModel einomodel.ChatModel, enabled bool) (*ClassifierModeration, error) {
	m := &ClassifierModeration{enabled: enabled && chatModel != nil}
	if !m.enabled {
		return m, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(moderationSystemPrompt),
		schema.UserMessage(moderationUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile moderation classifier chain: %w", err)
	}
	m.classifier = runnable
	return m, nil
}

func (m *ClassifierModeration) Check(ctx context.Context, text string) ModerationResult {
	if !m.enabled || m.classifier == nil {
		return BlocklistCheck(text)
	}

	msg, err := m.classifier.Invoke(ctx, map[string]any{"text": strings.TrimSpace(text)})
	if err != nil || msg == nil || strings.TrimSpace(msg.Content) == "" {
		return BlocklistCheck(text)
	}

	result, err := parseModerationOutput(msg.Content)
	if err != nil {
		return BlocklistCheck(text)
	}
	return *result
}

func parseModerationOutput(content string) (*ModerationResult, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	var payload struct {
		Blocked bool   `json:"blocked"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return nil, err
	}
	return &ModerationResult{Blocked: payload.Blocked, Reason: payload.Reason}, nil
}

const moderationSystemPrompt = "You are a content safety classifier for a home renovation " +
	"voice assistant. Read the user's message and decide whether it violates policy " +
	"(self-harm, weapons/explosives instructions, illegal activity, hate speech, sexual " +
	"content involving minors). Respond with only a JSON object: " +
	"{\"blocked\": bool, \"reason\": \"short reason or empty string\"}. No extra text."

const moderationUserPrompt = "Message:\n{text}\n\nRespond with the JSON object only."
