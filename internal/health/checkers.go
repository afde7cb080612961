package health

import (
	"context"
	"errors"
	"fmt"
)

// Pingable is anything exposing a Ping method, such as *pgxpool.Pool.
type Pingable interface {
	Ping(ctx context.Context) error
}

// Pinger returns a [Checker] that probes a pingable dependency, typically
// the leads database pool.
func Pinger(name string, p Pingable) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if p == nil {
				return errors.New("not configured")
			}
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// Configured returns a [Checker] that passes only when ok is true. Used for
// static wiring facts, such as "a live provider is registered".
func Configured(name string, ok bool, reason string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ok {
				return errors.New(reason)
			}
			return nil
		},
	}
}
