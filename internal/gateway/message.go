package gateway

import "github.com/hearthline/hearthline/internal/lead"

// Inbound message types (browser to server).
const (
	msgStart = "start"
	msgStop  = "stop"
	msgAudio = "audio"
)

// Outbound message types (server to browser).
const (
	msgState      = "state"
	msgTranscript = "transcript"
	msgInterrupt  = "interrupt"
	msgLead       = "lead"
	msgEmergency  = "emergency"
	msgError      = "error"
)

// clientMessage is one JSON frame received from the browser.
type clientMessage struct {
	Type string `json:"type"`

	// Data carries base64 PCM16 microphone samples for "audio" frames.
	Data string `json:"data,omitempty"`
}

// transcriptEntry is the wire form of one conversation log entry.
type transcriptEntry struct {
	Role  string `json:"role"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// serverMessage is one JSON frame sent to the browser. Only the fields
// relevant to Type are populated.
type serverMessage struct {
	Type string `json:"type"`

	// State is set for "state" frames.
	State string `json:"state,omitempty"`

	// Entries is the full conversation log, set for "transcript" frames.
	// The browser replaces its view wholesale, so reorderings between
	// speakers never desynchronise.
	Entries []transcriptEntry `json:"entries,omitempty"`

	// Data and SampleRate are set for "audio" frames.
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// Lead is set for "lead" frames.
	Lead *lead.Record `json:"lead,omitempty"`

	// Active and Agent are set for "emergency" frames.
	Active bool   `json:"active,omitempty"`
	Agent  string `json:"agent,omitempty"`

	// Error is set for "error" frames.
	Error string `json:"error,omitempty"`
}
