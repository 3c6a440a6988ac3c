package adapter

import (
	"context"
	"fmt"
)

// AudioChunk is one piece of synthesized audio. Final marks the chunk that
// ends the utterance; it may carry trailing bytes or be empty.
type AudioChunk struct {
	Data  []byte
	Final bool
}

// AudioStream is the lazy, finite, non-restartable sequence of audio chunks
// a TTS call produces. Close must stop the underlying request promptly so
// a barge-in can cut synthesis off mid-utterance.
type AudioStream interface {
	Recv(ctx context.Context) (AudioChunk, error)
	Close() error
}

// TTS synthesizes speech for one persona's voice.
type TTS interface {
	Synthesize(ctx context.Context, text, personaID string) (AudioStream, error)
}

// ProviderTTS wraps a concrete streaming TTS backend with the adapter
// layer's breaker/retry discipline.
type ProviderTTS struct {
	dial    func(ctx context.Context, text, personaID string) (AudioStream, error)
	breaker *CircuitBreaker
	retry   RetryConfig
}

// NewProviderTTS wraps dial (typically speechio.TTSClient.Synthesize) with
// a breaker and retry policy.
func NewProviderTTS(dial func(ctx context.Context, text, personaID string) (AudioStream, error), breaker *CircuitBreaker) *ProviderTTS {
	return &ProviderTTS{dial: dial, breaker: breaker, retry: DefaultRetryConfig()}
}

func (p *ProviderTTS) Synthesize(ctx context.Context, text, personaID string) (AudioStream, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return nil, &CircuitOpenError{Adapter: "tts"}
	}

	var stream AudioStream
	err := WithRetry(ctx, p.retry, func(ctx context.Context) error {
		s, err := p.dial(ctx, text, personaID)
		if err != nil {
			return &TransientProviderError{Op: "tts.synthesize", Err: err}
		}
		stream = s
		return nil
	})
	if err != nil {
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		return nil, fmt.Errorf("tts: synthesize: %w", err)
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
	return stream, nil
}
