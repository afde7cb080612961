package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink persists leads as append-only JSON lines in a local file. It is
// the zero-infrastructure fallback for small deployments and doubles as the
// on-disk audit trail next to the webhook.
// Thread-safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	path string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a FileSink that writes to the given path.
// The file is created if it does not exist.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Name labels the sink in delivery metrics.
func (*FileSink) Name() string { return "file" }

// Submit appends the record as one JSON line.
func (s *FileSink) Submit(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lead: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("lead: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("lead: write: %w", err)
	}
	return nil
}
