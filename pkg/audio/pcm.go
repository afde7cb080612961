package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedPacket is returned by [Decode] when a packet's payload is not
// valid base64 or is not a whole number of 16-bit samples. The error is fatal
// to that packet only; callers should drop the packet and continue.
var ErrMalformedPacket = errors.New("audio: malformed packet")

// Packet is the wire form of a [Frame]: signed 16-bit little-endian PCM,
// base64-encoded, tagged with a MIME-style string that carries the sample
// rate (e.g. "audio/pcm;rate=16000"). Packets are produced exactly once by
// [Encode] or by a live provider's inbound path, and consumed exactly once.
type Packet struct {
	// Data is the base64-encoded PCM16LE payload.
	Data string

	// MIMEType identifies the encoding and sample rate, e.g. "audio/pcm;rate=24000".
	MIMEType string
}

// MIMEForRate returns the wire MIME tag for PCM16 at the given sample rate.
func MIMEForRate(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// RateFromMIME extracts the sample rate from a "audio/pcm;rate=NNNN" tag.
// Returns 0 if the tag carries no parseable rate parameter.
func RateFromMIME(mimeType string) int {
	for part := range strings.SplitSeq(mimeType, ";") {
		part = strings.TrimSpace(part)
		if after, ok := strings.CutPrefix(part, "rate="); ok {
			rate, err := strconv.Atoi(after)
			if err != nil {
				return 0
			}
			return rate
		}
	}
	return 0
}

// Encode converts a frame of float samples to its wire form: each sample is
// scaled by 32768, clamped to the int16 range, and serialised little-endian
// before base64 encoding. Clamping is deliberate — a truncating cast would
// wrap +1.0 to -32768 and produce a full-scale click.
func Encode(f Frame) Packet {
	pcm := make([]byte, len(f.Samples)*2)
	for i, s := range f.Samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return Packet{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: MIMEForRate(f.SampleRate),
	}
}

// Decode is the exact inverse of [Encode]: base64 → int16 little-endian →
// float samples divided by 32768. channels declares how the PCM samples are
// interleaved; multi-channel input is averaged down to mono (the engine is
// mono end to end). The round trip decode(encode(f)) reproduces f within one
// 16-bit quantisation step per sample.
//
// A payload that is not valid base64, or whose length is not a whole number
// of samples, yields an error wrapping [ErrMalformedPacket].
func Decode(p Packet, channels int) (Frame, error) {
	if channels <= 0 {
		channels = 1
	}

	pcm, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: base64: %v", ErrMalformedPacket, err)
	}
	if len(pcm)%(2*channels) != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel samples", ErrMalformedPacket, len(pcm), channels)
	}

	frames := len(pcm) / (2 * channels)
	samples := make([]float32, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := (i*channels + ch) * 2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		samples[i] = float32(sum/int32(channels)) / 32768
	}

	return Frame{Samples: samples, SampleRate: RateFromMIME(p.MIMEType)}, nil
}
