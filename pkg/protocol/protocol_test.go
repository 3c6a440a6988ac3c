package protocol

import (
	"encoding/json"
	"testing"
)

func TestTypeOfReadsDiscriminator(t *testing.T) {
	raw := []byte(`{"type":"text_input","text":"hello","turn_id":"t1"}`)
	typ, err := TypeOf(raw)
	if err != nil {
		t.Fatalf("TypeOf: %v", err)
	}
	if typ != InTextInput {
		t.Fatalf("type = %q, want %q", typ, InTextInput)
	}
}

func TestTypeOfRejectsMissingType(t *testing.T) {
	if _, err := TypeOf([]byte(`{"text":"hello"}`)); err == nil {
		t.Fatalf("expected error for missing type discriminator")
	}
}

func TestFinalTranscriptRoundTrip(t *testing.T) {
	msg := FinalTranscript{Type: OutFinalTranscript, Text: "hello world", LatencyMS: 420}
	msg.TurnID = "t1"

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded FinalTranscript
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Text != msg.Text || decoded.LatencyMS != msg.LatencyMS || decoded.TurnID != msg.TurnID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, msg)
	}
}

func TestAudioChunkDecodesDataField(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","turn_id":"t1","data":"AAEC"}`)
	var chunk AudioChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if chunk.Data != "AAEC" || chunk.TurnID != "t1" {
		t.Fatalf("decoded = %+v", chunk)
	}
}

func TestStateUpdateCarriesProjectSnapshot(t *testing.T) {
	msg := StateUpdate{
		Type: OutStateUpdate,
		State: ProjectState{
			Project: ProjectFacts{Room: "kitchen", Budget: "$25k", Goals: []string{"new cabinets", "countertops"}},
			Risks:   []string{"load-bearing"},
			Summary: "Renovating kitchen, budget $25k, wants: new cabinets, countertops. risks: load-bearing.",
		},
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	state, ok := decoded["state"].(map[string]any)
	if !ok {
		t.Fatalf("state_update.state is not an object: %v", decoded["state"])
	}
	project, ok := state["project"].(map[string]any)
	if !ok {
		t.Fatalf("state.project is not an object: %v", state["project"])
	}
	if project["room"] != "kitchen" || project["budget"] != "$25k" {
		t.Fatalf("project = %+v", project)
	}
	risks, ok := state["risks"].([]any)
	if !ok || len(risks) != 1 || risks[0] != "load-bearing" {
		t.Fatalf("risks = %+v", state["risks"])
	}
}
