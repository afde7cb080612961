package chat

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hearthline/hearthline/internal/intake"
	leadmock "github.com/hearthline/hearthline/internal/lead/mock"
	"github.com/hearthline/hearthline/internal/persona"
	"github.com/hearthline/hearthline/pkg/provider/llm"
	llmmock "github.com/hearthline/hearthline/pkg/provider/llm/mock"
)

func newAssistant(t *testing.T) (*Assistant, *llmmock.Provider, *leadmock.Sink, *persona.Machine) {
	t.Helper()

	personas := persona.NewMachine(
		persona.Persona{Name: "front_desk", Voice: "Kore", Label: "Angela"},
		persona.Persona{Name: "emergency", Voice: "Zephyr", Label: "Mike"},
	)
	sink := &leadmock.Sink{}
	log := slog.New(slog.DiscardHandler)
	dispatcher := intake.NewDispatcher(personas, sink, intake.WithLogger(log))
	provider := &llmmock.Provider{}
	assistant := NewAssistant(provider, dispatcher, "You are Angela.", WithLogger(log))
	return assistant, provider, sink, personas
}

// ─── TestSend_PlainAnswer ────────────────────────────────────────────────────

func TestSend_PlainAnswer(t *testing.T) {
	t.Parallel()

	assistant, provider, _, _ := newAssistant(t)
	provider.QueueResponse(&llm.CompletionResponse{Content: "We can book that for Tuesday."})

	reply, err := assistant.Send(context.Background(), "Can someone look at my furnace?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "We can book that for Tuesday." {
		t.Errorf("reply = %q", reply)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("want 1 completion, got %d", len(reqs))
	}
	req := reqs[0]
	if len(req.Tools) != 2 {
		t.Errorf("tools offered = %d; want 2", len(req.Tools))
	}
	if req.SystemPrompt == "" || req.SystemPrompt == "You are Angela." {
		t.Errorf("system prompt missing the live-chat suffix: %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", req.Messages)
	}

	history := assistant.History()
	if len(history) != 2 || history[1].Role != "assistant" {
		t.Errorf("history = %+v", history)
	}
}

// ─── TestSend_ToolRoundSubmitsLead ───────────────────────────────────────────

func TestSend_ToolRoundSubmitsLead(t *testing.T) {
	t.Parallel()

	assistant, provider, sink, _ := newAssistant(t)

	provider.QueueResponse(&llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
		ID:        "fc-1",
		Name:      intake.ToolSubmitLead,
		Arguments: `{"name":"Alex Rivera","phone":"555-0100","summary":"furnace not igniting"}`,
	}}})
	provider.QueueResponse(&llm.CompletionResponse{Content: "All set, Alex — a technician will call you shortly."})

	delivered := sink.NextSubmit()
	reply, err := assistant.Send(context.Background(), "Name's Alex Rivera, 555-0100, furnace won't ignite.")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "All set, Alex — a technician will call you shortly." {
		t.Errorf("reply = %q", reply)
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for lead delivery")
	}
	recs := sink.Submitted()
	if len(recs) != 1 || recs[0].Name != "Alex Rivera" || recs[0].Phone != "555-0100" {
		t.Fatalf("leads = %+v", recs)
	}

	// The second completion must see the assistant's tool call and the
	// tool acknowledgement.
	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("want 2 completions, got %d", len(reqs))
	}
	msgs := reqs[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second round saw %d messages: %+v", len(msgs), msgs)
	}
	if len(msgs[1].ToolCalls) != 1 {
		t.Errorf("assistant turn lost its tool calls: %+v", msgs[1])
	}
	if msgs[2].Role != "tool" || msgs[2].ToolCallID != "fc-1" {
		t.Errorf("tool turn = %+v", msgs[2])
	}
}

// ─── TestSend_EmergencySwitchesPersona ───────────────────────────────────────

func TestSend_EmergencySwitchesPersona(t *testing.T) {
	t.Parallel()

	assistant, provider, _, personas := newAssistant(t)

	provider.QueueResponse(&llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
		ID:        "fc-1",
		Name:      intake.ToolSetEmergencyStatus,
		Arguments: `{"active":true}`,
	}}})
	provider.QueueResponse(&llm.CompletionResponse{Content: "This is Mike. Shut off the gas valve now."})

	if _, err := assistant.Send(context.Background(), "I smell gas in the basement!"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !personas.State().EmergencyActive {
		t.Error("emergency not engaged from the chat channel")
	}
}

// ─── TestSend_EmptyReplyFallsBack ────────────────────────────────────────────

func TestSend_EmptyReplyFallsBack(t *testing.T) {
	t.Parallel()

	assistant, provider, _, _ := newAssistant(t)
	provider.QueueResponse(&llm.CompletionResponse{})

	reply, err := assistant.Send(context.Background(), "hello?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != fallbackReply {
		t.Errorf("reply = %q; want the fallback", reply)
	}
}

// ─── TestSend_ProviderErrorSurfaces ──────────────────────────────────────────

func TestSend_ProviderErrorSurfaces(t *testing.T) {
	t.Parallel()

	assistant, provider, _, _ := newAssistant(t)
	provider.CompleteErr = errors.New("rate limited")

	if _, err := assistant.Send(context.Background(), "hi"); err == nil {
		t.Fatal("want provider error")
	}
}

// ─── TestSend_ToolLoopBounded ────────────────────────────────────────────────

func TestSend_ToolLoopBounded(t *testing.T) {
	t.Parallel()

	assistant, provider, _, _ := newAssistant(t)

	// The model keeps flagging the same emergency forever.
	for range 10 {
		provider.QueueResponse(&llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
			ID:        "fc-1",
			Name:      intake.ToolSetEmergencyStatus,
			Arguments: `{"active":true}`,
		}}})
	}

	if _, err := assistant.Send(context.Background(), "help"); err == nil {
		t.Fatal("want an error once the tool loop limit is hit")
	}
}

// ─── TestReset ───────────────────────────────────────────────────────────────

func TestReset(t *testing.T) {
	t.Parallel()

	assistant, provider, _, _ := newAssistant(t)
	provider.QueueResponse(&llm.CompletionResponse{Content: "Hi!"})

	if _, err := assistant.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	assistant.Reset()
	if got := assistant.History(); len(got) != 0 {
		t.Errorf("history after reset = %+v", got)
	}
}
