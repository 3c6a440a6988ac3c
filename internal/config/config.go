// Package config loads runtime configuration from environment variables.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every configuration surface the service needs.
type Config struct {
	Server ServerConfig
	LLM    LLMConfig
	Speech SpeechConfig
	Guard  GuardConfig
	VAD    VADConfig
	Debug  DebugConfig
}

// Load reads Config from the process environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		LLM:    llm,
		Speech: speech,
		Guard:  loadGuardConfig(),
		VAD:    loadVADConfig(),
		Debug:  loadDebugConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		return ServerConfig{Addr: port}, nil
	}
	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}
	return ServerConfig{Addr: ":" + port}, nil
}

// LLMConfig describes the chat-model credentials and default sampling knobs.
type LLMConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether enough credentials are present to build a chat
// model. Without them NewChatModel returns an error, and cmd/voiceserver
// exits at startup.
func (c LLMConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the underlying eino chat model from configuration.
func (c LLMConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("llm credentials missing: set ARK_API_KEY + LLM_MODEL or AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		v := float32(*c.Temperature)
		temperature = &v
	}
	var topP *float32
	if c.TopP != nil {
		v := float32(*c.TopP)
		topP = &v
	}
	var maxTokens *int
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		maxTokens = &v
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}
	return ark.NewChatModel(ctx, cfg)
}

func loadLLMConfig() (LLMConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return LLMConfig{}, err
	}
	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return LLMConfig{}, err
	}
	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return LLMConfig{}, err
	}

	return LLMConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       getEnvOrDefault("LLM_MODEL", ""),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// SpeechConfig describes STT/TTS provider credentials and per-persona voices.
type SpeechConfig struct {
	AppID       string
	AccessToken string
	AccessKey   string
	SecretKey   string
	Region      string
	BaseURL     string
	ASRModel    string
	ASRLanguage string
	TTSModel    string
	TTSVoiceBob string
	TTSVoiceAlice string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Timeout     int
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	accessKey := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("SPEECH_SECRET_KEY"))

	if accessToken == "" && accessKey == "" {
		accessToken = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		accessKey = strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
		secretKey = strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))
	}

	return SpeechConfig{
		AppID:         appID,
		AccessToken:   accessToken,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		Region:        getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		BaseURL:       getEnvOrDefault("SPEECH_BASE_URL", ""),
		ASRModel:      getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage:   getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSModel:      getEnvOrDefault("TTS_MODEL", ""),
		TTSVoiceBob:   getEnvOrDefault("TTS_VOICE_BOB", "bob-intake-warm"),
		TTSVoiceAlice: getEnvOrDefault("TTS_VOICE_ALICE", "alice-technical-crisp"),
		TTSSpeed:      ttsSpeed,
		TTSVolume:     ttsVolume,
		TTSLanguage:   getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Timeout:       timeoutSeconds,
		Enabled:       appID != "" && accessToken != "",
	}, nil
}

// GuardConfig toggles the moderation adapter's LLM classifier.
type GuardConfig struct {
	Enabled bool
}

func loadGuardConfig() GuardConfig {
	enabled, _ := parseBoolEnv("GUARDRAIL_ENABLED", true)
	return GuardConfig{Enabled: enabled}
}

// VADConfig holds the voice-activity thresholds read from VAD_SPEECH_THRESHOLD
// and VAD_SILENCE_MS. Config.VAD is loaded but not read by the session or
// any other package.
type VADConfig struct {
	SpeechThreshold float64
	SilenceMillis   int
}

func loadVADConfig() VADConfig {
	threshold := 0.5
	if v, err := parseOptionalFloatEnv("VAD_SPEECH_THRESHOLD"); err == nil && v != nil {
		threshold = *v
	}
	silence := 500
	if v, err := parseOptionalIntEnv("VAD_SILENCE_MS"); err == nil && v != nil {
		silence = *v
	}
	return VADConfig{SpeechThreshold: threshold, SilenceMillis: silence}
}

// DebugConfig gates operationally useful but non-essential debug paths.
type DebugConfig struct {
	DumpAudio bool
}

func loadDebugConfig() DebugConfig {
	dump, _ := parseBoolEnv("DEBUG_DUMP_AUDIO", false)
	return DebugConfig{DumpAudio: dump}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
