package turn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/duoagent/voicebridge/internal/adapter"
	"github.com/duoagent/voicebridge/internal/agent"
	"github.com/duoagent/voicebridge/internal/persona"
	"github.com/duoagent/voicebridge/internal/router"
	"github.com/duoagent/voicebridge/internal/state"
	"github.com/duoagent/voicebridge/pkg/protocol"
)

// Sender delivers one outbound frame to the client. The session supplies
// an implementation backed by the bounded outbound queue.
type Sender func(event any) error

// Deps are the collaborators one turn pipeline needs. Adapters are shared
// across sessions and must tolerate concurrent use; Conversation and
// Agents are owned by the single session this pipeline runs inside and
// need no locking.
type Deps struct {
	STT        adapter.STT
	TTS        adapter.TTS
	LLM        adapter.LLM
	Moderation adapter.Moderation
	Agents     *agent.Manager
	Personas   persona.Store
	Conv       *state.Conversation
	ModelName  string
	MaxTokens  *int
	Log        zerolog.Logger
}

const sentenceSoftLimit = 120

// Pipeline runs exactly one Turn to completion (or to a terminal branch).
type Pipeline struct {
	deps   Deps
	sender Sender
	turnID string
}

func New(deps Deps, sender Sender, turnID string) *Pipeline {
	return &Pipeline{deps: deps, sender: sender, turnID: turnID}
}

// Run drives the turn from Idle to a terminal phase. playbackDone is
// signaled by the session once the client reports tts_playback_done;
// ctx cancellation represents a barge-in or session shutdown. It returns
// the terminal phase and, for a cancelled turn, the partial reply text to
// checkpoint. A turn blocked by output moderation also returns its reply
// text in that second value; every other terminal phase returns "".
func (p *Pipeline) Run(ctx context.Context, startAgent string, input Input, playbackDone <-chan struct{}) (Phase, string) {
	t := &Turn{ID: p.turnID, Agent: startAgent, Phase: PhaseIdle}

	userText, phase, checkpoint := p.transcribe(ctx, input)
	if phase != "" {
		return phase, checkpoint
	}
	t.UserText = userText
	t.Phase = PhaseRouting

	target := router.Route(userText, t.Agent)
	handoffNote := (*agent.HandoffNote)(nil)
	if target != router.None {
		outgoing := t.Agent
		t.Agent = p.deps.Agents.Switch(string(target))
		if err := p.emit(&protocol.AgentChange{Type: protocol.OutAgentChange, Agent: t.Agent}); err != nil {
			return PhaseFailed, ""
		}
		if phase, checkpoint := p.handoffAck(ctx, outgoing, t.Agent); phase != "" {
			return phase, checkpoint
		}
		snapshot := p.deps.Conv.RenderContext()
		note := agent.BuildHandoffNote(snapshot, userText, string(target))
		handoffNote = &note
	} else {
		t.Phase = PhaseModeratingIn
		result := p.deps.Moderation.Check(ctx, userText)
		if result.Blocked {
			p.emit(&protocol.GuardrailBlocked{Type: protocol.OutGuardrailBlocked, Reason: result.Reason})
			return PhaseBlocked, ""
		}
	}

	t.Phase = PhaseGenerating
	replyText, phase, checkpoint := p.generateAndSpeak(ctx, t, handoffNote)
	if phase != "" {
		return phase, checkpoint
	}
	t.ReplyText = replyText
	t.Phase = PhaseSpeaking

	select {
	case <-playbackDone:
		t.Phase = PhaseDone
		p.commit(t)
		return PhaseDone, ""
	case <-ctx.Done():
		return PhaseCancelled, t.ReplyText
	}
}

// transcribe runs STT (for audio input) or passes text_input straight
// through, emitting stt_processing/partial_transcript/final_transcript as
// it goes.
func (p *Pipeline) transcribe(ctx context.Context, input Input) (userText string, terminal Phase, checkpoint string) {
	if input.Kind == KindText {
		if strings.TrimSpace(input.Text) == "" {
			return "", PhaseDone, ""
		}
		return input.Text, "", ""
	}

	if err := p.emit(&protocol.STTProcessing{Type: protocol.OutSTTProcessing, Meta: metaFor(p.turnID)}); err != nil {
		return "", PhaseFailed, ""
	}
	started := time.Now()

	session, err := p.deps.STT.Start(ctx, input.Language)
	if err != nil {
		p.emitError(err)
		return "", PhaseFailed, ""
	}
	defer session.Close()

	const chunkSize = 6400
	for i := 0; i < len(input.PCM); i += chunkSize {
		end := i + chunkSize
		if end > len(input.PCM) {
			end = len(input.PCM)
		}
		if err := session.SendAudio(ctx, input.PCM[i:end]); err != nil {
			p.emitError(err)
			return "", PhaseFailed, ""
		}
	}
	if err := session.CloseSend(ctx); err != nil {
		p.emitError(err)
		return "", PhaseFailed, ""
	}

	var finalText string
	for {
		chunk, err := session.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return "", PhaseCancelled, ""
			}
			p.emitError(err)
			return "", PhaseFailed, ""
		}
		if !chunk.Final {
			p.emit(&protocol.PartialTranscript{Type: protocol.OutPartialTranscript, Meta: metaFor(p.turnID), Text: chunk.Text})
			continue
		}
		finalText = chunk.Text
		break
	}

	if strings.TrimSpace(finalText) == "" {
		return "", PhaseDone, ""
	}

	p.emit(&protocol.FinalTranscript{
		Type:      protocol.OutFinalTranscript,
		Meta:      metaFor(p.turnID),
		Text:      finalText,
		LatencyMS: time.Since(started).Milliseconds(),
	})
	return finalText, "", ""
}

// handoffAck synthesizes the short acknowledgement sentence in the
// outgoing (pre-switch) agent's voice and forwards its audio, announcing
// targetAgent. Called after agent_change has already been emitted, so the
// client hears the outgoing voice make the handoff while already knowing
// who is taking over.
func (p *Pipeline) handoffAck(ctx context.Context, outgoingAgent, targetAgent string) (Phase, string) {
	outgoing, ok := p.deps.Personas.FindByID(outgoingAgent)
	if !ok {
		return PhaseFailed, ""
	}
	targetPersona, ok := p.deps.Personas.FindByID(targetAgent)
	if !ok {
		return PhaseFailed, ""
	}

	text := agent.AcknowledgementText(targetPersona.ID, targetPersona.Name)
	if err := p.speak(ctx, text, outgoing.ID); err != nil {
		p.emitError(err)
		return PhaseFailed, ""
	}
	return "", ""
}

// generateAndSpeak streams the LLM reply, forwarding llm_token events as
// tokens arrive while submitting completed sentences to TTS in order.
func (p *Pipeline) generateAndSpeak(ctx context.Context, t *Turn, note *agent.HandoffNote) (string, Phase, string) {
	snapshot := p.deps.Conv.RenderContext()
	messages, err := p.deps.Agents.BuildMessages(snapshot, t.Agent, t.UserText, note)
	if err != nil {
		p.emitError(err)
		return "", PhaseFailed, ""
	}

	tokens, err := p.deps.LLM.Stream(ctx, messages, p.deps.ModelName, p.deps.MaxTokens)
	if err != nil {
		p.emitError(err)
		return "", PhaseFailed, ""
	}
	defer tokens.Close()

	sentenceCh := make(chan string, 4)
	ttsErrCh := make(chan error, 1)
	go func() {
		ttsErrCh <- p.speakSentences(ctx, sentenceCh, t.Agent)
	}()

	var reply strings.Builder
	var buffer strings.Builder
	checkpointText := ""

	for {
		token, done, err := tokens.Recv(ctx)
		if err != nil {
			close(sentenceCh)
			<-ttsErrCh
			if errors.Is(err, context.Canceled) {
				return reply.String(), PhaseCancelled, reply.String()
			}
			p.emitError(err)
			return "", PhaseFailed, ""
		}
		if done {
			break
		}
		if token == "" {
			continue
		}

		select {
		case <-ctx.Done():
			close(sentenceCh)
			<-ttsErrCh
			return reply.String(), PhaseCancelled, reply.String()
		default:
		}

		reply.WriteString(token)
		buffer.WriteString(token)
		p.emit(&protocol.LLMToken{Type: protocol.OutLLMToken, Meta: metaFor(p.turnID), Token: token})
		checkpointText = reply.String()

		if atSentenceBoundary(buffer.String()) {
			sentenceCh <- buffer.String()
			buffer.Reset()
		}
	}

	if buffer.Len() > 0 {
		sentenceCh <- buffer.String()
	}
	close(sentenceCh)
	if err := <-ttsErrCh; err != nil {
		p.emitError(err)
		return "", PhaseFailed, ""
	}

	fullReply := reply.String()
	result := p.deps.Moderation.Check(ctx, fullReply)
	if result.Blocked {
		p.emit(&protocol.GuardrailBlocked{Type: protocol.OutGuardrailBlocked, Reason: result.Reason})
		return "", PhaseBlocked, checkpointText
	}

	p.emit(&protocol.TTSDone{Type: protocol.OutTTSDone, Meta: metaFor(p.turnID)})
	return fullReply, "", ""
}

// speakSentences drains sentences and forwards their synthesized audio in
// order, preserving the tts_chunk ordering guarantee within the turn.
func (p *Pipeline) speakSentences(ctx context.Context, sentences <-chan string, agentID string) error {
	for sentence := range sentences {
		if strings.TrimSpace(sentence) == "" {
			continue
		}
		if err := p.speak(ctx, sentence, agentID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) speak(ctx context.Context, text, agentID string) error {
	return SpeakText(ctx, p.deps.TTS, p.sender, text, agentID, p.turnID)
}

// SpeakText synthesizes text in the given persona's voice and forwards its
// audio as tts_chunk events. It is shared by the turn pipeline (sentence
// by sentence, with a turn_id) and the session's greeting/inactivity-nudge
// utterances (which carry no turn_id since they happen outside any turn).
func SpeakText(ctx context.Context, tts adapter.TTS, sender Sender, text, agentID, turnID string) error {
	stream, err := tts.Synthesize(ctx, text, agentID)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if len(chunk.Data) > 0 {
			if sendErr := sender(&protocol.TTSChunk{
				Type:  protocol.OutTTSChunk,
				Meta:  metaFor(turnID),
				Audio: base64.StdEncoding.EncodeToString(chunk.Data),
			}); sendErr != nil {
				return sendErr
			}
		}
		if chunk.Final {
			return nil
		}
	}
}

// commit folds the completed turn into conversation memory: transcript
// entries, extractors, agent_seen, and a state_update broadcast.
func (p *Pipeline) commit(t *Turn) {
	p.deps.Conv.AppendTurn(state.SpeakerUser, t.UserText)
	p.deps.Conv.UpdateFromUser(t.UserText)

	speaker := state.SpeakerBob
	if t.Agent == persona.Alice {
		speaker = state.SpeakerAlice
	}
	p.deps.Conv.AppendTurn(speaker, t.ReplyText)
	p.deps.Conv.UpdateFromAgent(t.ReplyText)
	p.deps.Conv.MarkAgentSeen(t.Agent)

	p.emit(&protocol.StateUpdate{Type: protocol.OutStateUpdate, State: projectStateFor(p.deps.Conv)})
}

// projectStateFor renders the conversation's current snapshot into the
// wire shape state_update carries.
func projectStateFor(conv *state.Conversation) protocol.ProjectState {
	snap := conv.RenderContext()
	return protocol.ProjectState{
		Project: protocol.ProjectFacts{
			Room:            snap.Project.Room,
			Budget:          snap.Project.Budget,
			Timeline:        snap.Project.Timeline,
			DIYOrContractor: snap.Project.DIYOrContractor,
			Goals:           snap.Project.Goals,
			Constraints:     snap.Project.Constraints,
		},
		OpenQuestions:      snap.OpenQuestions,
		Risks:              snap.Risks,
		Decisions:          snap.Decisions,
		MaterialsDiscussed: snap.Materials,
		Summary:            snap.Summary,
	}
}

func (p *Pipeline) emit(event any) error {
	if err := p.sender(event); err != nil {
		p.deps.Log.Warn().Err(err).Msg("turn: emit failed")
		return err
	}
	return nil
}

func (p *Pipeline) emitError(err error) {
	p.deps.Log.Error().Err(err).Str("turn_id", p.turnID).Msg("turn: adapter error")
	p.emit(&protocol.ErrorEvent{Type: protocol.OutError, Message: fmt.Sprintf("turn %s failed: %v", p.turnID, err)})
}

func metaFor(turnID string) protocol.Meta {
	return protocol.Meta{TurnID: turnID, Ts: time.Now().UnixMilli()}
}

func atSentenceBoundary(buffer string) bool {
	if len(buffer) >= sentenceSoftLimit {
		return true
	}
	trimmed := strings.TrimRight(buffer, " \t")
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return last == '.' || last == '?' || last == '!' || last == '\n'
}
