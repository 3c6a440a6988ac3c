package speechio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/adapter/wsproto"
	"github.com/duoagent/voicebridge/internal/config"
)

const ttsWSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// TTSClient is the streaming text-to-speech client. Grounded on the
// teacher's VolcengineTTSClient.SynthesizeSpeechWS, but restructured: the
// teacher accumulates every AudioOnlyServerResponse into one in-memory
// buffer and returns it only once the provider signals completion. Barge-in
// needs audio chunks as they arrive so playback (and cancellation) can
// start immediately, so this client pushes each decoded chunk onto a
// channel as soon as it is decoded instead of buffering.
type TTSClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

func NewTTSClient(cfg config.SpeechConfig) *TTSClient {
	return &TTSClient{cfg: cfg, dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second}}
}

type ttsRequestBody struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	ReqParams struct {
		Speaker     string `json:"speaker"`
		Text        string `json:"text"`
		AudioParams struct {
			Format     string  `json:"format"`
			SampleRate int     `json:"sample_rate"`
			SpeedRatio float32 `json:"speed_ratio,omitempty"`
			VolumeRatio float32 `json:"volume_ratio,omitempty"`
		} `json:"audio_params"`
		Additions map[string]any `json:"additions,omitempty"`
		Language  string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data,omitempty"`
}

// stream implements adapter.AudioStream over one dialed websocket
// connection. A single receive goroutine decodes frames and pushes chunks
// onto a buffered channel; Recv drains it.
type stream struct {
	conn    *websocket.Conn
	cancel  context.CancelFunc
	chunks  chan adapter.AudioChunk
	errCh   chan error
}

// Synthesize opens a streaming TTS session for one utterance and starts
// decoding audio chunks in the background.
func (c *TTSClient) Synthesize(ctx context.Context, text, personaID string) (adapter.AudioStream, error) {
	appID, token, err := ResolveCredentials(c.cfg)
	if err != nil {
		return nil, err
	}

	speaker := ResolveSpeaker(c.cfg, personaID)

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", "volc.service_type.10029")

	conn, _, err := c.dialer.DialContext(ctx, ttsWSURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial tts endpoint: %w", err)
	}

	body := ttsRequestBody{}
	body.ReqParams.Speaker = speaker
	body.ReqParams.Text = text
	body.ReqParams.AudioParams.Format = "mp3"
	body.ReqParams.AudioParams.SampleRate = 24000
	body.ReqParams.AudioParams.SpeedRatio = c.cfg.TTSSpeed
	body.ReqParams.AudioParams.VolumeRatio = c.cfg.TTSVolume
	body.ReqParams.Language = c.cfg.TTSLanguage
	body.ReqParams.Additions = map[string]any{"disable_markdown_filter": false}

	payload, err := json.Marshal(body)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	frame := wsproto.NewFullClientRequest(payload, wsproto.NoCompression)
	encoded, err := wsproto.Encode(frame)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &stream{
		conn:   conn,
		cancel: cancel,
		chunks: make(chan adapter.AudioChunk, 32),
		errCh:  make(chan error, 1),
	}
	go s.receiveLoop(sessionCtx)
	return s, nil
}

func (s *stream) Recv(ctx context.Context) (adapter.AudioChunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			select {
			case err := <-s.errCh:
				return adapter.AudioChunk{}, err
			default:
				return adapter.AudioChunk{}, fmt.Errorf("tts stream closed")
			}
		}
		return chunk, nil
	case err := <-s.errCh:
		return adapter.AudioChunk{}, err
	case <-ctx.Done():
		return adapter.AudioChunk{}, ctx.Err()
	}
}

// Close cancels the receive loop and drops the connection. Called on
// barge-in to stop synthesis promptly.
func (s *stream) Close() error {
	s.cancel()
	return s.conn.Close()
}

func (s *stream) receiveLoop(ctx context.Context) {
	defer close(s.chunks)

	for {
		if ctx.Err() != nil {
			s.errCh <- ctx.Err()
			return
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.errCh <- fmt.Errorf("read tts response: %w", err)
			return
		}

		msg, err := wsproto.Decode(bytes.NewReader(data))
		if err != nil {
			s.errCh <- fmt.Errorf("decode tts message: %w", err)
			return
		}

		switch msg.Header.MessageType {
		case wsproto.ErrorMessage:
			payload, _ := wsproto.DecompressPayload(msg.Payload, msg.Header.Compression)
			s.errCh <- fmt.Errorf("tts provider error: %s", string(payload))
			return

		case wsproto.AudioOnlyServerResponse:
			payload, err := wsproto.DecompressPayload(msg.Payload, msg.Header.Compression)
			if err != nil {
				continue
			}
			final := msg.IsLastPacket()
			if len(payload) > 0 || final {
				s.chunks <- adapter.AudioChunk{Data: payload, Final: final}
			}
			if final {
				return
			}

		case wsproto.FullServerResponse:
			payload, err := wsproto.DecompressPayload(msg.Payload, msg.Header.Compression)
			if err != nil {
				continue
			}
			var serverMsg ttsServerMessage
			if err := json.Unmarshal(payload, &serverMsg); err != nil {
				continue
			}
			if serverMsg.Code != 0 {
				s.errCh <- fmt.Errorf("tts provider error %d: %s", serverMsg.Code, serverMsg.Message)
				return
			}

			final := msg.IsLastPacket() || serverMsg.Sequence < 0
			var audio []byte
			if serverMsg.Data != "" {
				if decoded, err := base64.StdEncoding.DecodeString(serverMsg.Data); err == nil {
					audio = decoded
				}
			}
			if len(audio) > 0 || final {
				s.chunks <- adapter.AudioChunk{Data: audio, Final: final}
			}
			if final {
				return
			}

		default:
			// unrecognized frame types are ignored rather than failing the stream
		}
	}
}
