package speechio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/adapter/wsproto"
	"github.com/duoagent/voicebridge/internal/config"
)

const asrWSURL = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"

// ASRClient is the streaming speech-to-text client, grounded on the
// teacher's VolcengineASRClient but restructured around a long-lived
// session the caller feeds audio into incrementally instead of one-shot
// io.Reader request.
type ASRClient struct {
	cfg       config.SpeechConfig
	dialer    *websocket.Dialer
	dumpAudio bool
}

func NewASRClient(cfg config.SpeechConfig) *ASRClient {
	return &ASRClient{cfg: cfg, dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second}}
}

// WithDebugDump enables writing a copy of each session's inbound audio to a
// temp file, gated by the DEBUG_DUMP_AUDIO env var at startup.
func (c *ASRClient) WithDebugDump(enabled bool) *ASRClient {
	c.dumpAudio = enabled
	return c
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text     string `json:"text"`
			Definite bool   `json:"definite"`
		} `json:"utterances,omitempty"`
	} `json:"result,omitempty"`
}

type asrRequestBody struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

// session implements adapter.STTSession over one dialed websocket
// connection. SendAudio writes each audio chunk to the connection from the
// caller's goroutine; transcript chunks decoded by a reader goroutine land
// on a buffered channel Recv drains.
type session struct {
	conn      *websocket.Conn
	cancel    context.CancelFunc
	results   chan adapter.TranscriptChunk
	sendErrCh chan error
	recvErrCh chan error
	sequence  int32
	closeOnce chan struct{}

	dumpAudio bool
	dumpID    string
	dumpBuf   []byte
}

// Start dials the ASR endpoint and begins the receive loop. The caller
// streams audio in via SendAudio and reads transcript chunks via Recv.
func (c *ASRClient) Start(ctx context.Context, language string) (adapter.STTSession, error) {
	appID, token, err := ResolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", "volc.bigasr.sauc.duration")

	conn, _, err := c.dialer.DialContext(ctx, asrWSURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial asr endpoint: %w", err)
	}

	body := asrRequestBody{}
	body.Audio.Format = "wav"
	body.Audio.Codec = "raw"
	body.Audio.Rate = 16000
	body.Audio.Bits = 16
	body.Audio.Channel = 1
	body.Audio.Language = language
	if body.Audio.Language == "" {
		body.Audio.Language = c.cfg.ASRLanguage
	}
	body.Request.ModelName = c.cfg.ASRModel
	body.Request.EnableITN = true
	body.Request.EnablePunc = true
	body.Request.ShowUtterances = true
	body.Request.ResultType = "full"
	body.Request.EndWindowSize = 800

	payload, err := json.Marshal(body)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	compressed, err := wsproto.CompressPayload(payload, wsproto.GzipCompression)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("compress asr request: %w", err)
	}
	frame := wsproto.NewFullClientRequest(compressed, wsproto.GzipCompression)
	encoded, err := wsproto.Encode(frame)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode asr request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		conn:      conn,
		cancel:    cancel,
		results:   make(chan adapter.TranscriptChunk, 16),
		sendErrCh: make(chan error, 1),
		recvErrCh: make(chan error, 1),
		sequence:  2, // sequence 1 is consumed by the full client request above
		closeOnce: make(chan struct{}),
		dumpAudio: c.dumpAudio,
		dumpID:    uuid.NewString(),
	}
	go s.receiveLoop(sessionCtx)
	return s, nil
}

// SendAudio frames and sends one chunk of raw PCM audio. Callers pace
// their own calls; this does not impose the provider's 200ms cadence
// since the caller already streams audio as it is captured.
func (s *session) SendAudio(ctx context.Context, chunk []byte) error {
	if s.dumpAudio {
		s.dumpBuf = append(s.dumpBuf, chunk...)
	}
	compressed, err := wsproto.CompressPayload(chunk, wsproto.GzipCompression)
	if err != nil {
		return fmt.Errorf("compress audio chunk: %w", err)
	}
	msg := wsproto.NewAudioChunk(compressed, s.sequence, false, wsproto.GzipCompression)
	s.sequence++
	encoded, err := wsproto.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode audio chunk: %w", err)
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

// CloseSend sends the terminal, negative-sequence audio chunk that tells
// the provider no more audio is coming.
func (s *session) CloseSend(ctx context.Context) error {
	if s.dumpAudio {
		if err := dumpAudioDebug(s.dumpID, "raw", s.dumpBuf); err != nil {
			s.dumpAudio = false
		}
	}
	msg := wsproto.NewAudioChunk(nil, s.sequence, true, wsproto.GzipCompression)
	encoded, err := wsproto.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode close-send chunk: %w", err)
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func (s *session) Recv(ctx context.Context) (adapter.TranscriptChunk, error) {
	select {
	case chunk, ok := <-s.results:
		if !ok {
			select {
			case err := <-s.recvErrCh:
				return adapter.TranscriptChunk{}, err
			default:
				// The receive loop ended with no pending error: it has
				// already delivered its final chunk, or its error was
				// consumed by an earlier Recv. Surface an empty final
				// transcript rather than an error.
				return adapter.TranscriptChunk{Final: true}, nil
			}
		}
		return chunk, nil
	case err := <-s.recvErrCh:
		return adapter.TranscriptChunk{}, err
	case <-ctx.Done():
		return adapter.TranscriptChunk{}, ctx.Err()
	}
}

func (s *session) Close() error {
	s.cancel()
	return s.conn.Close()
}

func (s *session) receiveLoop(ctx context.Context) {
	defer close(s.results)

	for {
		if ctx.Err() != nil {
			s.recvErrCh <- ctx.Err()
			return
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.recvErrCh <- fmt.Errorf("read asr response: %w", err)
			return
		}

		msg, err := wsproto.Decode(bytes.NewReader(data))
		if err != nil {
			s.recvErrCh <- fmt.Errorf("decode asr message: %w", err)
			return
		}

		switch msg.Header.MessageType {
		case wsproto.ErrorMessage:
			payload, _ := wsproto.DecompressPayload(msg.Payload, msg.Header.Compression)
			s.recvErrCh <- fmt.Errorf("asr provider error: %s", string(payload))
			return

		case wsproto.FullServerResponse:
			payload, err := wsproto.DecompressPayload(msg.Payload, msg.Header.Compression)
			if err != nil {
				continue
			}
			var serverMsg asrServerMessage
			if err := json.Unmarshal(payload, &serverMsg); err != nil {
				continue
			}
			if serverMsg.Code != 0 && serverMsg.Code != 20000000 {
				s.recvErrCh <- fmt.Errorf("asr provider error %d: %s", serverMsg.Code, serverMsg.Message)
				return
			}

			text := serverMsg.Result.Text
			if text == "" && len(serverMsg.Result.Utterances) > 0 {
				var b strings.Builder
				for _, u := range serverMsg.Result.Utterances {
					if b.Len() > 0 {
						b.WriteString(" ")
					}
					b.WriteString(u.Text)
				}
				text = b.String()
			}

			final := msg.IsLastPacket() || serverMsg.Sequence < 0
			if text != "" || final {
				s.results <- adapter.TranscriptChunk{Text: text, Final: final}
			}
			if final {
				return
			}

		default:
			// audio acks and other frame types carry no transcript content
		}
	}
}
