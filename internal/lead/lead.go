// Package lead captures service leads produced during intake conversations
// and delivers them to the configured destinations.
//
// A [Record] is born when the model invokes the lead-submission tool; the
// intake dispatcher normalises the arguments, builds the record, and hands
// it to a [Sink]. Delivery is decoupled from the conversation: a slow or
// failing sink must never delay the voice session's acknowledgement.
package lead

import (
	"context"
	"errors"
	"time"
)

// Temp classifications stamped on a record. A hot install means the caller
// wants a replacement unit quoted; everything else is a repair.
const (
	TempHotInstall = "HOT INSTALL"
	TempRepair     = "REPAIR"
)

// Record is one captured service lead.
type Record struct {
	// Name and Phone identify the caller. Both are required; the intake
	// dispatcher rejects submissions missing either.
	Name  string `json:"name"`
	Phone string `json:"phone"`

	// Address is the service address, when the caller volunteered one.
	Address string `json:"address,omitempty"`

	// HeatingType is the normalised equipment kind ("furnace", "boiler",
	// "heat_pump", ...). Empty when not established.
	HeatingType string `json:"heating_type,omitempty"`

	// UnitAge is the caller's description of the equipment age, verbatim.
	UnitAge string `json:"age,omitempty"`

	// Summary is the model's one-line description of the caller's need.
	Summary string `json:"summary,omitempty"`

	// Temp is the sales classification: TempHotInstall or TempRepair.
	Temp string `json:"temp,omitempty"`

	// Urgent marks leads captured while the emergency persona was engaged.
	Urgent bool `json:"urgent,omitempty"`

	// Agent is the label of the persona that captured the lead.
	Agent string `json:"agent,omitempty"`

	// ReceivedAt is when the engine accepted the submission.
	ReceivedAt time.Time `json:"received_at"`
}

// Sink delivers captured leads to one destination. Implementations must be
// safe for concurrent use. A sink may additionally implement a
// Name() string method; delivery metrics use it as the sink label.
type Sink interface {
	Submit(ctx context.Context, rec Record) error
}

// Multi fans one record out to several sinks. Every sink is attempted even
// when an earlier one fails; the errors are joined.
type Multi []Sink

var _ Sink = (Multi)(nil)

// Submit delivers rec to every sink in order.
func (m Multi) Submit(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name labels the fan-out in delivery metrics.
func (Multi) Name() string { return "multi" }
