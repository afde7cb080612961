// Package audio defines the core audio types and the PCM wire codec used by
// the Hearthline call engine.
//
// Audio moves through the system as [Frame] values — fixed blocks of mono
// float samples — and crosses the transport boundary as [Packet] values,
// the base64/PCM16 wire form understood by the live providers. The codec
// functions [Encode] and [Decode] convert between the two.
//
// This package lives under pkg/ because platform adapters (the browser
// gateway, test fakes) are expected to produce and consume these types.
package audio

import "time"

// Default sample rates for the two audio legs. The providers accept 16 kHz
// input and synthesize speech at 24 kHz.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// Frame is a block of mono linear PCM audio, decoded to float samples in the
// range [-1, 1]. Frames are immutable once created; each pipeline stage owns
// a frame only transiently while processing it.
type Frame struct {
	// Samples holds the mono float samples. Values outside [-1, 1] are
	// clamped by [Encode] rather than wrapped.
	Samples []float32

	// SampleRate in Hz (16000 for the capture leg, 24000 for playback).
	SampleRate int
}

// Duration returns the wall-clock length of the frame.
// A frame with a non-positive sample rate has zero duration.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
