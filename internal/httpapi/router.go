// Package httpapi wires the service's HTTP surface: the websocket upgrade
// endpoint each voice session runs over, and a health check. Adapted from
// the teacher's internal/handler.NewRouter chi wiring.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	appmiddleware "github.com/duoagent/voicebridge/internal/middleware"
	"github.com/duoagent/voicebridge/internal/session"
)

// Router builds the HTTP handler that upgrades /ws connections into voice
// sessions.
type Router struct {
	Factory        session.Factory
	Log            zerolog.Logger
	AllowedOrigins []string
}

// NewHandler assembles the chi router.
func (rt Router) NewHandler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appmiddleware.CORS(rt.AllowedOrigins))

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			rt.Log.Warn().Err(err).Msg("httpapi: websocket upgrade failed")
			return
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			return nil
		})

		sess := session.New(conn, rt.Factory, rt.Log)
		go func() {
			defer conn.Close()
			sess.Run(r.Context())
		}()
	})

	return r
}
