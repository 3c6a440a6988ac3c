// Package protocol defines the flat JSON event frames exchanged over the
// session websocket. Every frame carries a "type" discriminator and may
// carry "turn_id"/"ts"; Peek reads the discriminator so a caller can pick
// the right concrete struct to unmarshal into.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Meta holds the two fields every frame may optionally carry.
type Meta struct {
	TurnID string `json:"turn_id,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// Peek reads just the type discriminator out of a raw frame.
type Peek struct {
	Type string `json:"type"`
}

func TypeOf(raw []byte) (string, error) {
	var p Peek
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("protocol: read frame type: %w", err)
	}
	if p.Type == "" {
		return "", fmt.Errorf("protocol: frame missing type discriminator")
	}
	return p.Type, nil
}

// Inbound event type discriminators.
const (
	InPing           = "ping"
	InAudioChunk     = "audio_chunk"
	InEndOfAudio     = "end_of_audio"
	InTextInput      = "text_input"
	InBargeIn        = "barge_in"
	InTTSPlaybackEnd = "tts_playback_done"
	InWebRTCOffer    = "webrtc_offer"
	InICECandidate   = "ice_candidate"
)

// Outbound event type discriminators.
const (
	OutConnected         = "connected"
	OutPong              = "pong"
	OutSTTProcessing     = "stt_processing"
	OutPartialTranscript = "partial_transcript"
	OutFinalTranscript   = "final_transcript"
	OutLLMToken          = "llm_token"
	OutTTSChunk          = "tts_chunk"
	OutTTSDone           = "tts_done"
	OutAgentChange       = "agent_change"
	OutBargeInAck        = "barge_in_ack"
	OutCheckpointSaved   = "checkpoint_saved"
	OutGuardrailBlocked  = "guardrail_blocked"
	OutStateUpdate       = "state_update"
	OutError             = "error"
)

// --- Inbound frames ---

type Ping struct {
	Type string `json:"type"`
	Meta
}

// AudioChunk carries one base64-encoded slice of PCM16LE 16kHz mono audio.
type AudioChunk struct {
	Type string `json:"type"`
	Meta
	Data string `json:"data"`
}

type EndOfAudio struct {
	Type string `json:"type"`
	Meta
}

// TextInput lets a client skip STT and inject text directly.
type TextInput struct {
	Type string `json:"type"`
	Meta
	Text string `json:"text"`
}

type BargeIn struct {
	Type string `json:"type"`
	Meta
}

type TTSPlaybackDone struct {
	Type string `json:"type"`
	Meta
}

// WebRTCOffer and ICECandidate define the shape of the WebRTC signaling
// frames. The session accepts these frames and drops them: it neither
// parses SDP or ICE nor forwards the fields anywhere.
type WebRTCOffer struct {
	Type string `json:"type"`
	Meta
	SDP string `json:"sdp"`
}

type ICECandidate struct {
	Type string `json:"type"`
	Meta
	Candidate string `json:"candidate"`
}

// --- Outbound frames ---

type Connected struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

type Pong struct {
	Type string `json:"type"`
}

type STTProcessing struct {
	Type string `json:"type"`
	Meta
}

type PartialTranscript struct {
	Type string `json:"type"`
	Meta
	Text string `json:"text"`
}

type FinalTranscript struct {
	Type      string `json:"type"`
	Meta
	Text      string `json:"text"`
	LatencyMS int64  `json:"latency_ms"`
}

type LLMToken struct {
	Type string `json:"type"`
	Meta
	Token string `json:"token"`
}

// TTSChunk carries one base64-encoded chunk of synthesized audio.
type TTSChunk struct {
	Type string `json:"type"`
	Meta
	Audio string `json:"audio"`
}

type TTSDone struct {
	Type string `json:"type"`
	Meta
}

// AgentChange announces a handoff between personas mid-session.
type AgentChange struct {
	Type  string `json:"type"`
	Agent string `json:"agent"`
}

type BargeInAck struct {
	Type string `json:"type"`
	Meta
}

// CheckpointSaved carries the partial reply text committed when a turn is
// cut short by a barge-in.
type CheckpointSaved struct {
	Type    string `json:"type"`
	Partial string `json:"partial"`
}

type GuardrailBlocked struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// StateUpdate carries the full conversation state snapshot after a turn
// commits, so a client can render project facts without replaying the
// transcript.
type StateUpdate struct {
	Type  string       `json:"type"`
	State ProjectState `json:"state"`
}

// ProjectState mirrors the conversation's rendered snapshot.
type ProjectState struct {
	Project            ProjectFacts `json:"project"`
	OpenQuestions      []string     `json:"open_questions"`
	Risks              []string     `json:"risks"`
	Decisions          []string     `json:"decisions"`
	MaterialsDiscussed []string     `json:"materials_discussed"`
	Summary            string       `json:"summary"`
}

// ProjectFacts is the recognized-key project mapping: room/budget/timeline/
// diy_or_contractor are strings or empty when unset, goals/constraints are
// ordered sets of short strings.
type ProjectFacts struct {
	Room            string   `json:"room"`
	Budget          string   `json:"budget"`
	Timeline        string   `json:"timeline"`
	DIYOrContractor string   `json:"diy_or_contractor"`
	Goals           []string `json:"goals"`
	Constraints     []string `json:"constraints"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
