// Package openai implements the live.Provider interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime protocol.
// Audio travels as base64-encoded PCM16 chunks; server events are translated
// onto the session's single ordered event channel.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/hearthline/hearthline/pkg/audio"
	"github.com/hearthline/hearthline/pkg/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// The Realtime API streams pcm16 at a fixed 24 kHz in both directions.
	pcmRate = 24000

	// writeTimeout bounds one outbound websocket write.
	writeTimeout = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		ContextWindow:      128_000,
		MaxSessionDuration: 30 * time.Minute,
		Voices:             []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect establishes a new OpenAI Realtime session with the given
// configuration. The returned Session accepts audio immediately after the
// session.update message is sent; EventOpened arrives with session.created.
//
// The Realtime API has no sample-rate parameter: pcm16 is 24 kHz in both
// directions. Capture packets tagged with a different rate are resampled by
// SendAudio; an OutputSampleRate other than 24 kHz cannot be honoured and is
// rejected here.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	if cfg.OutputSampleRate != 0 && cfg.OutputSampleRate != pcmRate {
		return nil, fmt.Errorf("openai: unsupported output sample rate %d: the Realtime API renders pcm16 at %d Hz", cfg.OutputSampleRate, pcmRate)
	}

	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Tools                   []oaiTool           `json:"tools,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParam `json:"input_audio_transcription,omitempty"`
}

type transcriptionParam struct {
	Model string `json:"model"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	// Per-utterance transcript accumulators. The Realtime API streams
	// transcription as deltas; the event contract wants cumulative partials.
	// Touched only by receiveLoop.
	callerText string
	agentText  string

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, tools, audio formats and input transcription.
func (s *session) sendSessionUpdate(cfg live.SessionConfig) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOAITools(cfg.Tools)
	}
	if cfg.TranscribeInput {
		params.InputAudioTranscription = &transcriptionParam{Model: "whisper-1"}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message. Writes
// carry a deadline: callers include the session event consumer, which must
// never block indefinitely on a stalled peer.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// emit delivers ev on the event channel unless the session is shutting down.
// Reports whether the event was delivered.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// receiveLoop reads events from the WebSocket and translates them. It owns
// the event channel: EventClosed is the last thing on it.
func (s *session) receiveLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent dispatches one decoded frame. Reports false when the
// session is shutting down mid-emit.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.created":
		return s.emit(live.Event{Type: live.EventOpened})

	case "response.audio.delta":
		if evt.Delta == "" {
			return true
		}
		return s.emit(live.Event{
			Type:  live.EventAudio,
			Audio: audio.Packet{Data: evt.Delta, MIMEType: audio.MIMEForRate(pcmRate)},
		})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return true
		}
		s.agentText += evt.Delta
		return s.emit(live.Event{Type: live.EventPartialTranscript, Role: live.RoleAgent, Text: s.agentText})

	case "response.audio_transcript.done":
		if s.agentText == "" {
			return true
		}
		text := s.agentText
		s.agentText = ""
		return s.emit(live.Event{Type: live.EventFinalTranscript, Role: live.RoleAgent, Text: text})

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return true
		}
		s.callerText += evt.Delta
		return s.emit(live.Event{Type: live.EventPartialTranscript, Role: live.RoleCaller, Text: s.callerText})

	case "conversation.item.input_audio_transcription.completed":
		s.callerText = ""
		if evt.Transcript == "" {
			return true
		}
		return s.emit(live.Event{Type: live.EventFinalTranscript, Role: live.RoleCaller, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		// Server-side VAD detected the caller talking over the agent; queued
		// agent audio is stale from here on.
		s.agentText = ""
		return s.emit(live.Event{Type: live.EventInterrupted})

	case "response.function_call_arguments.done":
		args := map[string]any{}
		if evt.Arguments != "" {
			// Unparseable arguments still surface the call; the dispatcher
			// answers with a validation error the model can react to.
			_ = json.Unmarshal([]byte(evt.Arguments), &args)
		}
		return s.emit(live.Event{
			Type: live.EventToolCall,
			Call: live.ToolCall{ID: evt.CallID, Name: evt.Name, Args: args},
		})

	case "response.done":
		return s.emit(live.Event{Type: live.EventTurnComplete})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		return s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("openai: %s", msg)})
	}
	return true
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// finish emits the terminal EventClosed and closes the event channel.
func (s *session) finish() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		err := s.errVal
		s.mu.Unlock()

		select {
		case s.events <- live.Event{Type: live.EventClosed, Err: err}:
		default:
		}
		close(s.events)
	})
}

// toOAITools converts tool schemas to the OpenAI Realtime tool format.
func toOAITools(tools []live.ToolSchema) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio streams one encoded caller-audio packet as an
// input_audio_buffer.append event. Packets whose MIME rate differs from the
// API's fixed 24 kHz are resampled first; forwarding them verbatim would have
// the server treat 16 kHz capture as 24 kHz audio.
func (s *session) SendAudio(pkt audio.Packet) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	data := pkt.Data
	if rate := audio.RateFromMIME(pkt.MIMEType); rate != 0 && rate != pcmRate {
		frame, err := audio.Decode(pkt, 1)
		if err != nil {
			return fmt.Errorf("openai: resample input audio: %w", err)
		}
		data = audio.Encode(resampleLinear(frame, pcmRate)).Data
	}

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: data,
	})
}

// resampleLinear converts a mono frame to targetRate by linear interpolation.
// Adequate for voice-band capture audio; the input is already band-limited
// well below either Nyquist frequency.
func resampleLinear(f audio.Frame, targetRate int) audio.Frame {
	if f.SampleRate == targetRate || f.SampleRate <= 0 || len(f.Samples) == 0 {
		return audio.Frame{Samples: f.Samples, SampleRate: targetRate}
	}

	n := int(int64(len(f.Samples)) * int64(targetRate) / int64(f.SampleRate))
	out := make([]float32, n)
	step := float64(f.SampleRate) / float64(targetRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(f.Samples)-1 {
			out[i] = f.Samples[len(f.Samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = f.Samples[j]*(1-frac) + f.Samples[j+1]*frac
	}
	return audio.Frame{Samples: out, SampleRate: targetRate}
}

// SendToolResult returns a tool invocation's outcome as a
// function_call_output item and triggers the next model response.
func (s *session) SendToolResult(callID, _ string, result map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	output, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("openai: marshal tool result: %w", err)
	}

	if err := s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: string(output),
		},
	}); err != nil {
		return err
	}
	return s.writeJSON(map[string]string{"type": "response.create"})
}

// Events returns the session's ordered event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
