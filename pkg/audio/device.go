package audio

import "context"

// CaptureDevice is the entry point for a caller-side microphone source.
// Implementations wrap a concrete audio origin (the browser gateway's
// websocket leg, a test fake) and expose a uniform stream abstraction.
//
// A device grants exclusive access: while one [CaptureStream] is open,
// further Acquire calls must fail until it is closed.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Acquire takes exclusive ownership of the microphone and returns a live
	// sample stream. ctx governs the acquisition attempt only; once acquired,
	// the stream remains open until [CaptureStream.Close].
	//
	// Returns an error if the device is unavailable, denied, or already held.
	Acquire(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an open microphone stream.
//
// Callers must call Close on every exit path — the device stays locked
// against other sessions until they do.
type CaptureStream interface {
	// Samples returns a read-only channel of raw mono sample blocks in
	// capture order. Block sizes are device-defined; use a [Slicer] to
	// rebuffer them into fixed frames. The channel is closed when the
	// stream ends or Close is called.
	Samples() <-chan []float32

	// Close releases the microphone. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}
