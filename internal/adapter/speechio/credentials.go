// Package speechio implements the concrete streaming STT/TTS clients the
// adapter package wraps. It speaks the wsproto binary frame format over a
// gorilla/websocket connection to a volcengine-style speech provider,
// adapted from the teacher's internal/service/speech Volcengine clients.
package speechio

import (
	"fmt"
	"strings"

	"github.com/duoagent/voicebridge/internal/config"
)

// ResolveCredentials returns the normalized app id and access token, or an
// error naming what's missing.
func ResolveCredentials(cfg config.SpeechConfig) (appID, token string, err error) {
	appID = strings.TrimSpace(cfg.AppID)
	token = strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("speech provider config missing app id or access token")
	}
	return appID, token, nil
}

// ResolveSpeaker maps a persona id ("bob"/"alice") to the provider speaker
// id configured for that persona, the same alias-by-persona pattern as the
// teacher's resolveTTSSpeakerCandidates table, repointed at the two
// configured persona voices instead of a fixed character roster. Any other
// id falls back to the bob voice.
func ResolveSpeaker(cfg config.SpeechConfig, personaID string) string {
	switch strings.ToLower(strings.TrimSpace(personaID)) {
	case "alice":
		return cfg.TTSVoiceAlice
	default:
		return cfg.TTSVoiceBob
	}
}
