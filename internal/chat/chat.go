// Package chat runs the text intake channel: the same instructions and tools
// as the voice session, driven through an ordinary completion API instead of
// a speech-to-speech stream.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthline/hearthline/internal/intake"
	"github.com/hearthline/hearthline/pkg/live"
	"github.com/hearthline/hearthline/pkg/provider/llm"
)

// liveChatSuffix sharpens the shared system instruction for the text channel.
const liveChatSuffix = "\n\nCRITICAL: You are acting as a LIVE CHAT agent. " +
	"Keep responses concise and use appropriate formatting like bullet points or bold text. " +
	"If an emergency is detected, switch to the emergency dispatcher's tone immediately."

// fallbackReply is returned when the model produced neither text nor a
// pending tool round.
const fallbackReply = "I'm processing that for you now..."

// defaultMaxToolRounds bounds how many consecutive tool rounds one user
// message may trigger before the conversation is considered stuck.
const defaultMaxToolRounds = 4

// Option is a functional option for configuring an [Assistant].
type Option func(*Assistant)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *Assistant) {
		a.log = log
	}
}

// WithTemperature sets the sampling temperature passed to the model.
func WithTemperature(temp float64) Option {
	return func(a *Assistant) {
		a.temperature = temp
	}
}

// WithMaxToolRounds overrides the tool-round limit per user message.
func WithMaxToolRounds(rounds int) Option {
	return func(a *Assistant) {
		a.maxToolRounds = rounds
	}
}

// Assistant holds one text conversation. Tool calls the model emits run
// through the same dispatcher as the voice channel, so chat-captured leads
// and emergency flags land in exactly the same places.
//
// Send serializes the conversation: concurrent calls queue behind each other.
type Assistant struct {
	provider     llm.Provider
	dispatcher   *intake.Dispatcher
	instructions string
	tools        []llm.ToolDefinition
	log          *slog.Logger

	temperature   float64
	maxToolRounds int

	mu      sync.Mutex
	history []llm.Message
}

// NewAssistant creates an Assistant sharing the voice channel's instructions
// and dispatcher.
func NewAssistant(provider llm.Provider, dispatcher *intake.Dispatcher, instructions string, opts ...Option) *Assistant {
	a := &Assistant{
		provider:      provider,
		dispatcher:    dispatcher,
		instructions:  instructions + liveChatSuffix,
		tools:         toolDefinitions(dispatcher.ToolSchemas()),
		log:           slog.Default(),
		maxToolRounds: defaultMaxToolRounds,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Send submits one user message and returns the assistant's reply, executing
// any tool rounds the model requests along the way.
func (a *Assistant) Send(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, llm.Message{Role: "user", Content: text})

	for round := 0; round <= a.maxToolRounds; round++ {
		resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     a.history,
			Tools:        a.tools,
			Temperature:  a.temperature,
			SystemPrompt: a.instructions,
		})
		if err != nil {
			return "", fmt.Errorf("chat: complete: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			reply := resp.Content
			if reply == "" {
				reply = fallbackReply
			}
			a.history = append(a.history, llm.Message{Role: "assistant", Content: reply})
			return reply, nil
		}

		a.history = append(a.history, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			a.history = append(a.history, a.runTool(ctx, call))
		}
	}

	return "", fmt.Errorf("chat: tool loop exceeded %d rounds", a.maxToolRounds)
}

// runTool executes one tool call and renders its acknowledgement as a
// tool-role message.
func (a *Assistant) runTool(ctx context.Context, call llm.ToolCall) llm.Message {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			a.log.Warn("malformed tool arguments", "tool", call.Name, "error", err)
		}
	}

	result := a.dispatcher.Dispatch(ctx, live.ToolCall{ID: call.ID, Name: call.Name, Args: args})

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"status":"error"}`)
	}
	return llm.Message{
		Role:       "tool",
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    string(payload),
	}
}

// History returns a copy of the conversation so far.
func (a *Assistant) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Reset clears the conversation.
func (a *Assistant) Reset() {
	a.mu.Lock()
	a.history = nil
	a.mu.Unlock()
}

func toolDefinitions(schemas []live.ToolSchema) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(schemas))
	for i, s := range schemas {
		defs[i] = llm.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		}
	}
	return defs
}
