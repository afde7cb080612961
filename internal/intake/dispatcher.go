// Package intake interprets the structured tool calls the model emits during
// a conversation: flagging an emergency and submitting a captured lead.
//
// The dispatcher is the single writer of persona state and the single
// producer of lead records. Every tool call — recognised or not — receives
// exactly one acknowledgement, returned synchronously so acknowledgements go
// back to the provider in request order. Lead delivery is the one asynchronous
// edge: sinks run on their own goroutine and their failures are logged, never
// surfaced to the conversation.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthline/hearthline/internal/lead"
	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/persona"
	"github.com/hearthline/hearthline/pkg/live"
)

// Tool names the model invokes.
const (
	ToolSetEmergencyStatus = "set_emergency_status"
	ToolSubmitLead         = "submit_lead"
)

// submitTimeout bounds a single background sink delivery.
const submitTimeout = 10 * time.Second

// Option is a functional option for configuring a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithNormalizer replaces the default field normalizer.
func WithNormalizer(n *Normalizer) Option {
	return func(d *Dispatcher) {
		d.norm = n
	}
}

// WithMetrics sets the metrics set. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithOnLead registers a callback invoked synchronously with every accepted
// lead record, before background delivery starts. The UI mirror hangs off
// this hook.
func WithOnLead(fn func(lead.Record)) Option {
	return func(d *Dispatcher) {
		d.onLead = fn
	}
}

// WithOnEmergency registers a callback invoked when the emergency flag
// actually changes. Redundant set_emergency_status calls do not fire it.
func WithOnEmergency(fn func(persona.State)) Option {
	return func(d *Dispatcher) {
		d.onEmergency = fn
	}
}

// Dispatcher executes tool calls against the persona machine and the lead
// sink. Safe for concurrent use, though a session's event loop is expected to
// be its only caller.
type Dispatcher struct {
	personas *persona.Machine
	sink     lead.Sink
	norm     *Normalizer
	log      *slog.Logger
	metrics  *observe.Metrics

	onLead      func(lead.Record)
	onEmergency func(persona.State)

	now func() time.Time
}

// NewDispatcher creates a Dispatcher. sink may be nil, in which case accepted
// leads are only reported through the WithOnLead callback.
func NewDispatcher(personas *persona.Machine, sink lead.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		personas: personas,
		sink:     sink,
		norm:     NewNormalizer(),
		log:      slog.Default(),
		metrics:  observe.DefaultMetrics(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch executes one tool call and returns its acknowledgement. The
// result is always non-nil and always carries a "status" field; callers
// forward it to the provider tagged with the originating call id.
func (d *Dispatcher) Dispatch(ctx context.Context, call live.ToolCall) map[string]any {
	ack := d.dispatch(ctx, call)
	status, _ := ack["status"].(string)
	d.metrics.RecordToolCall(ctx, metricToolName(call.Name), status)
	return ack
}

func (d *Dispatcher) dispatch(ctx context.Context, call live.ToolCall) map[string]any {
	switch call.Name {
	case ToolSetEmergencyStatus:
		return d.setEmergency(call)
	case ToolSubmitLead:
		return d.submitLead(ctx, call)
	default:
		d.log.Warn("unknown tool call", "tool", call.Name, "call_id", call.ID)
		return map[string]any{
			"status": "error",
			"error":  fmt.Sprintf("unknown tool: %s", call.Name),
		}
	}
}

// metricToolName collapses unrecognised tool names into one bucket so the
// counter's attribute cardinality stays bounded however the model misbehaves.
func metricToolName(name string) string {
	switch name {
	case ToolSetEmergencyStatus, ToolSubmitLead:
		return name
	}
	return "unknown"
}

func (d *Dispatcher) setEmergency(call live.ToolCall) map[string]any {
	active, _ := call.Args["active"].(bool)

	state, changed := d.personas.SetEmergency(active)
	if changed {
		d.log.Info("emergency status changed",
			"active", active, "agent", state.Active.Label)
		if d.onEmergency != nil {
			d.onEmergency(state)
		}
	}

	return map[string]any{
		"status":       "ok",
		"active_agent": state.Active.Label,
	}
}

func (d *Dispatcher) submitLead(ctx context.Context, call live.ToolCall) map[string]any {
	name := stringArg(call.Args, "name")
	phone := stringArg(call.Args, "phone")
	if name == "" || phone == "" {
		d.log.Warn("lead submission rejected", "call_id", call.ID,
			"has_name", name != "", "has_phone", phone != "")
		return map[string]any{
			"status": "error",
			"error":  "name and phone are required",
		}
	}

	state := d.personas.State()
	temp := d.norm.Temp(stringArg(call.Args, "temp"))

	agent := stringArg(call.Args, "agent")
	if agent == "" {
		agent = state.Active.Label
	}

	rec := lead.Record{
		Name:        name,
		Phone:       phone,
		Address:     stringArg(call.Args, "address"),
		HeatingType: d.norm.HeatingType(stringArg(call.Args, "heatingType")),
		UnitAge:     stringArg(call.Args, "age"),
		Summary:     stringArg(call.Args, "summary"),
		Temp:        temp,
		Urgent:      temp == lead.TempHotInstall || state.EmergencyActive,
		Agent:       agent,
		ReceivedAt:  d.now().UTC(),
	}

	d.log.Info("lead accepted", "name", rec.Name, "temp", rec.Temp, "urgent", rec.Urgent)
	if d.onLead != nil {
		d.onLead(rec)
	}
	if d.sink != nil {
		go d.deliver(rec)
	}

	return map[string]any{"status": "success"}
}

// deliver runs one background sink submission. It deliberately does not
// inherit the dispatch context: the lead must still be delivered after the
// session that produced it closes.
func (d *Dispatcher) deliver(rec lead.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	status := "ok"
	if err := d.sink.Submit(ctx, rec); err != nil {
		status = "error"
		d.log.Warn("lead delivery failed", "name", rec.Name, "error", err)
	}
	d.metrics.RecordLeadSubmission(ctx, sinkLabel(d.sink), status)
}

// sinkLabel resolves the metric attribute for a sink. Sinks that do not name
// themselves share a generic bucket.
func sinkLabel(s lead.Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "sink"
}

// ToolSchemas returns the tool declarations advertised to the provider at
// session setup.
func (d *Dispatcher) ToolSchemas() []live.ToolSchema {
	return []live.ToolSchema{
		{
			Name:        ToolSetEmergencyStatus,
			Description: "Flag that the caller is in a critical no-heat or safety situation, or clear the flag once resolved.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"active": map[string]any{
						"type":        "boolean",
						"description": "True if a critical situation is identified.",
					},
				},
				"required": []string{"active"},
			},
		},
		{
			Name:        ToolSubmitLead,
			Description: "Submit the captured service lead once the caller's name and phone number are confirmed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":        map[string]any{"type": "string"},
					"phone":       map[string]any{"type": "string"},
					"address":     map[string]any{"type": "string"},
					"heatingType": map[string]any{"type": "string"},
					"age":         map[string]any{"type": "string"},
					"summary":     map[string]any{"type": "string"},
					"temp": map[string]any{
						"type": "string",
						"enum": []string{lead.TempHotInstall, lead.TempRepair},
					},
				},
				"required": []string{"name", "phone"},
			},
		},
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
