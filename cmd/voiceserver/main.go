package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/adapter/speechio"
	"github.com/duoagent/voicebridge/internal/config"
	"github.com/duoagent/voicebridge/internal/httpapi"
	"github.com/duoagent/voicebridge/internal/logging"
	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pretty := os.Getenv("LOG_PRETTY") == "true"
	log := logging.New(pretty)

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("main: no .env file found, continuing with process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("main: failed to load configuration")
	}

	if !cfg.LLM.Enabled() {
		log.Fatal().Msg("main: llm credentials missing, set ARK_API_KEY + LLM_MODEL or AK/SK pair")
	}
	chatModel, err := cfg.LLM.NewChatModel(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("main: failed to build chat model")
	}

	moderation, err := adapter.NewClassifierModeration(ctx, chatModel, cfg.Guard.Enabled)
	if err != nil {
		log.Fatal().Err(err).Msg("main: failed to build moderation adapter")
	}

	if !cfg.Speech.Enabled {
		log.Fatal().Msg("main: speech credentials missing, set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
	}
	asrClient := speechio.NewASRClient(cfg.Speech).WithDebugDump(cfg.Debug.DumpAudio)
	ttsClient := speechio.NewTTSClient(cfg.Speech)

	personaStore := persona.NewMemoryStore(persona.Seed())

	factory := session.Factory{
		ChatModel:  chatModel,
		DialSTT:    asrClient.Start,
		DialTTS:    ttsClient.Synthesize,
		Moderation: moderation,
		Personas:   personaStore,
		ModelName:  cfg.LLM.Model,
		MaxTokens:  cfg.LLM.MaxTokens,
	}

	router := httpapi.Router{
		Factory:        factory,
		Log:            log,
		AllowedOrigins: allowedOrigins(),
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router.NewHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("main: voicebridge listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("main: server error")
	}
}

func allowedOrigins() []string {
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		return []string{v}
	}
	return []string{"*"}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
