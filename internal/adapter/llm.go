package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Role is one of the three roles the LLM contract recognizes.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered message list passed to LLM.Stream.
type Message struct {
	Role Role
	Text string
}

// TokenStream is the lazy, finite, non-restartable sequence of tokens an
// LLM.Stream call returns. Recv blocks until the next token is available,
// returns done=true with no error once the stream is exhausted, and
// returns an error if the underlying call fails mid-stream. Close aborts
// the underlying request promptly; it is always safe to call and is
// idempotent.
type TokenStream interface {
	Recv(ctx context.Context) (token string, done bool, err error)
	Close()
}

// LLM is the narrow contract over a streaming chat model.
type LLM interface {
	Stream(ctx context.Context, messages []Message, modelName string, maxTokens *int) (TokenStream, error)
}

// ArkLLM backs LLM with a cloudwego/eino chat model, grounded in the
// teacher's internal/service/ai/llm_service.go. Unlike the teacher, which
// drives the model through a prompt-template chain (AppendChatTemplate +
// AppendChatModel) because its message shape is fixed at service
// construction time, this adapter calls the chat model directly with a
// caller-supplied message list: the agent manager needs full control over
// how many system messages precede the user turn (persona prompt, context,
// optional handoff note), which a fixed template placeholder can't express.
type ArkLLM struct {
	chatModel einomodel.ChatModel
	breaker   *CircuitBreaker
	retry     RetryConfig
}

// NewArkLLM wraps an already-constructed eino chat model. breaker is
// owned by the caller so a session can share one breaker instance across
// its LLM/STT/TTS adapters, matching the spec's per-session breaker scope.
func NewArkLLM(chatModel einomodel.ChatModel, breaker *CircuitBreaker) *ArkLLM {
	return &ArkLLM{chatModel: chatModel, breaker: breaker, retry: DefaultRetryConfig()}
}

func (a *ArkLLM) Stream(ctx context.Context, messages []Message, modelName string, maxTokens *int) (TokenStream, error) {
	if !a.breaker.Allow() {
		return nil, &CircuitOpenError{Adapter: "llm"}
	}

	schemaMessages := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			schemaMessages = append(schemaMessages, schema.SystemMessage(m.Text))
		case RoleUser:
			schemaMessages = append(schemaMessages, schema.UserMessage(m.Text))
		case RoleAssistant:
			schemaMessages = append(schemaMessages, schema.AssistantMessage(m.Text, nil))
		default:
			return nil, &PermanentInputError{Op: "llm.Stream", Err: fmt.Errorf("unknown role %q", m.Role)}
		}
	}

	var reader *schema.StreamReader[*schema.Message]
	err := WithRetry(ctx, a.retry, func(ctx context.Context) error {
		r, err := a.chatModel.Stream(ctx, schemaMessages)
		if err != nil {
			return classifyLLMError("llm.Stream", err)
		}
		reader = r
		return nil
	})
	if err != nil {
		a.breaker.RecordFailure()
		return nil, err
	}
	a.breaker.RecordSuccess()

	streamCtx, cancel := context.WithCancel(ctx)
	return &arkTokenStream{reader: reader, cancel: cancel, ctx: streamCtx}, nil
}

type arkTokenStream struct {
	reader *schema.StreamReader[*schema.Message]
	cancel context.CancelFunc
	ctx    context.Context
}

func (s *arkTokenStream) Recv(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", true, err
	}
	chunk, err := s.reader.Recv()
	if errors.Is(err, io.EOF) {
		return "", true, nil
	}
	if err != nil {
		return "", true, &TransientProviderError{Op: "llm.Recv", Err: err}
	}
	if chunk == nil {
		return "", false, nil
	}
	return chunk.Content, false, nil
}

func (s *arkTokenStream) Close() {
	s.cancel()
	if s.reader != nil {
		s.reader.Close()
	}
}

// classifyLLMError maps a raw provider error into the adapter taxonomy.
// The underlying SDK does not expose a structured error type, so this
// follows the teacher's fmt.Errorf(... %w ...) wrapping convention and
// defaults to transient, since provider outages dominate real failures
// and an input-shape problem would have failed validation earlier.
func classifyLLMError(op string, err error) error {
	return &TransientProviderError{Op: op, Err: err}
}
