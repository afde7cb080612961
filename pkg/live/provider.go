// Package live defines the provider abstraction for bidirectional
// speech-to-speech session APIs (Gemini Live, OpenAI Realtime).
//
// A [Session] multiplexes everything the remote model produces onto a single
// ordered event channel. Consumers read [Session.Events] from one goroutine
// and rely on the channel's ordering: events are emitted in the order the
// provider sent them, so a final transcript always follows its partials and
// an interruption notice always precedes the next turn's audio.
package live

import (
	"context"
	"time"

	"github.com/hearthline/hearthline/pkg/audio"
)

// EventType discriminates the variants of [Event].
type EventType int

const (
	// EventOpened fires once, when the provider has acknowledged session
	// setup and is ready for audio.
	EventOpened EventType = iota

	// EventAudio carries one chunk of synthesised agent speech.
	EventAudio

	// EventPartialTranscript carries the cumulative text of an in-progress
	// utterance. Each partial for the same turn replaces the previous one.
	EventPartialTranscript

	// EventFinalTranscript carries the settled text of a completed utterance.
	EventFinalTranscript

	// EventToolCall carries one function invocation requested by the model.
	EventToolCall

	// EventInterrupted signals that the caller barged in: all queued agent
	// audio is stale and must be discarded.
	EventInterrupted

	// EventTurnComplete marks the end of an agent turn.
	EventTurnComplete

	// EventError carries a non-fatal provider error. The session stays open.
	EventError

	// EventClosed is the last event on the channel; the channel is closed
	// immediately after it.
	EventClosed
)

var eventNames = map[EventType]string{
	EventOpened:            "opened",
	EventAudio:             "audio",
	EventPartialTranscript: "partial_transcript",
	EventFinalTranscript:   "final_transcript",
	EventToolCall:          "tool_call",
	EventInterrupted:       "interrupted",
	EventTurnComplete:      "turn_complete",
	EventError:             "error",
	EventClosed:            "closed",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

// Role identifies which party an utterance belongs to.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	// ID is the provider's call identifier, echoed back in the result.
	ID string

	// Name of the declared tool being invoked.
	Name string

	// Args are the model-supplied arguments, decoded from JSON.
	Args map[string]any
}

// Event is one item on a session's ordered event stream. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	// Audio is set for EventAudio.
	Audio audio.Packet

	// Role and Text are set for transcript events.
	Role Role
	Text string

	// Call is set for EventToolCall.
	Call ToolCall

	// Err is set for EventError and, when the session ended abnormally,
	// for EventClosed.
	Err error
}

// ToolSchema declares one callable function to the model.
type ToolSchema struct {
	Name        string
	Description string

	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig carries everything a provider needs to open a session.
type SessionConfig struct {
	// Instructions is the system prompt establishing the agent's persona.
	Instructions string

	// Voice selects the provider's synthesised voice by name.
	Voice string

	// Tools are the functions the model may invoke during the session.
	Tools []ToolSchema

	// InputSampleRate and OutputSampleRate are the PCM rates for caller
	// audio in and agent audio out. Zero means the provider default.
	InputSampleRate  int
	OutputSampleRate int

	// TranscribeInput and TranscribeOutput request live transcription of
	// the respective audio direction.
	TranscribeInput  bool
	TranscribeOutput bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// ContextWindow is the model's context size in tokens.
	ContextWindow int

	// MaxSessionDuration is the provider-imposed session length limit;
	// zero means unlimited.
	MaxSessionDuration time.Duration

	// Voices lists the selectable voice names.
	Voices []string
}

// Session is one open bidirectional audio session.
//
// SendAudio and SendToolResult are safe for concurrent use. Events must be
// consumed by a single goroutine; an unread channel eventually stalls the
// provider's receive loop.
type Session interface {
	// SendAudio streams one encoded caller-audio packet to the model.
	// Returns an error once the session is closed.
	SendAudio(pkt audio.Packet) error

	// SendToolResult returns the outcome of a tool invocation to the model.
	// callID and name must match the originating [ToolCall].
	SendToolResult(callID, name string, result map[string]any) error

	// Events returns the session's ordered event stream. The same channel
	// is returned on every call. It is closed after EventClosed.
	Events() <-chan Event

	// Close terminates the session. Idempotent. EventClosed is still
	// delivered on the event channel.
	Close() error
}

// Provider opens live sessions against one remote speech-to-speech API.
type Provider interface {
	// Connect dials the provider and performs session setup. ctx bounds the
	// connection attempt only; the returned session outlives it.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
