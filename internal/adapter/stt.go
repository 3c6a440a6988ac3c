package adapter

import (
	"context"
	"fmt"
)

// TranscriptChunk is one increment of a streaming transcription. Partial
// chunks (Final=false) update the caller's running best guess; the final
// chunk carries the committed text for the utterance.
type TranscriptChunk struct {
	Text  string
	Final bool
}

// STTSession is one in-flight speech-to-text exchange: the caller pushes
// audio as it arrives and reads transcript chunks back, mirroring the
// concurrent send/receive goroutines the provider's streaming protocol
// requires.
type STTSession interface {
	SendAudio(ctx context.Context, chunk []byte) error
	CloseSend(ctx context.Context) error
	Recv(ctx context.Context) (TranscriptChunk, error)
	Close() error
}

// STT opens streaming transcription sessions.
type STT interface {
	Start(ctx context.Context, language string) (STTSession, error)
}

// ProviderSTT wraps a concrete streaming STT backend with the adapter
// layer's breaker/retry discipline, the same shape ArkLLM applies to the
// chat model.
type ProviderSTT struct {
	dial    func(ctx context.Context, language string) (STTSession, error)
	breaker *CircuitBreaker
	retry   RetryConfig
}

// NewProviderSTT wraps dial (typically speechio.ASRClient.Start) with a
// breaker and retry policy.
func NewProviderSTT(dial func(ctx context.Context, language string) (STTSession, error), breaker *CircuitBreaker) *ProviderSTT {
	return &ProviderSTT{dial: dial, breaker: breaker, retry: DefaultRetryConfig()}
}

func (p *ProviderSTT) Start(ctx context.Context, language string) (STTSession, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return nil, &CircuitOpenError{Adapter: "stt"}
	}

	var session STTSession
	err := WithRetry(ctx, p.retry, func(ctx context.Context) error {
		s, err := p.dial(ctx, language)
		if err != nil {
			return &TransientProviderError{Op: "stt.start", Err: err}
		}
		session = s
		return nil
	})
	if err != nil {
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		return nil, fmt.Errorf("stt: start session: %w", err)
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
	return session, nil
}
