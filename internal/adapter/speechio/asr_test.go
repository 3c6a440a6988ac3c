package speechio

import (
	"context"
	"testing"

	"github.com/duoagent/voicebridge/internal/adapter"
)

func TestRecvReturnsEmptyFinalChunkOnCleanCloseWithoutError(t *testing.T) {
	s := &session{
		results:   make(chan adapter.TranscriptChunk),
		recvErrCh: make(chan error, 1),
	}
	close(s.results)

	chunk, err := s.Recv(context.Background())
	if err != nil {
		t.Fatalf("Recv returned error %v, want nil on a clean close", err)
	}
	if !chunk.Final || chunk.Text != "" {
		t.Fatalf("chunk = %+v, want an empty final transcript", chunk)
	}
}

func TestRecvReturnsProviderErrorOnUncleanClose(t *testing.T) {
	s := &session{
		results:   make(chan adapter.TranscriptChunk),
		recvErrCh: make(chan error, 1),
	}
	s.recvErrCh <- context.Canceled
	close(s.results)

	_, err := s.Recv(context.Background())
	if err != context.Canceled {
		t.Fatalf("Recv err = %v, want context.Canceled surfaced from recvErrCh", err)
	}
}
