package audio

// Slicer rebuffers arbitrarily sized sample blocks into frames of a fixed
// sample count. The capture leg feeds it whatever block sizes the device
// produces and receives back whole frames in arrival order.
//
// Create one per stream; not designed for shared use across goroutines.
type Slicer struct {
	frameSize  int
	sampleRate int
	buf        []float32
}

// NewSlicer returns a Slicer that emits frames of frameSize samples tagged
// with sampleRate.
func NewSlicer(frameSize, sampleRate int) *Slicer {
	return &Slicer{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		buf:        make([]float32, 0, frameSize),
	}
}

// Push appends samples to the internal buffer and returns every complete
// frame now available, in order. The returned frames own their sample
// slices; the input slice may be reused by the caller.
func (s *Slicer) Push(samples []float32) []Frame {
	s.buf = append(s.buf, samples...)

	var frames []Frame
	for len(s.buf) >= s.frameSize {
		out := make([]float32, s.frameSize)
		copy(out, s.buf[:s.frameSize])
		s.buf = s.buf[:copy(s.buf, s.buf[s.frameSize:])]
		frames = append(frames, Frame{Samples: out, SampleRate: s.sampleRate})
	}
	return frames
}

// Flush returns any buffered partial frame and resets the buffer.
// ok is false when no samples were pending.
func (s *Slicer) Flush() (frame Frame, ok bool) {
	if len(s.buf) == 0 {
		return Frame{}, false
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	s.buf = s.buf[:0]
	return Frame{Samples: out, SampleRate: s.sampleRate}, true
}
