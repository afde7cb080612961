package audio_test

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"

	"github.com/hearthline/hearthline/pkg/audio"
)

// quantStep is the maximum round-trip error for one 16-bit sample.
const quantStep = 1.0 / 32768

// ─── TestEncode_MIMECarriesSampleRate ────────────────────────────────────────

func TestEncode_MIMECarriesSampleRate(t *testing.T) {
	t.Parallel()

	pkt := audio.Encode(audio.Frame{Samples: []float32{0}, SampleRate: 16000})
	if pkt.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType: want audio/pcm;rate=16000, got %q", pkt.MIMEType)
	}
	if got := audio.RateFromMIME(pkt.MIMEType); got != 16000 {
		t.Fatalf("RateFromMIME: want 16000, got %d", got)
	}
}

// ─── TestRoundTrip_WithinQuantisationError ───────────────────────────────────

func TestRoundTrip_WithinQuantisationError(t *testing.T) {
	t.Parallel()

	in := audio.Frame{
		Samples:    []float32{0, 0.25, -0.25, 0.5, -0.5, 0.9999, -1, 1.0 / 3, -2.0 / 3},
		SampleRate: 24000,
	}

	out, err := audio.Decode(audio.Encode(in), 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.SampleRate != in.SampleRate {
		t.Fatalf("SampleRate: want %d, got %d", in.SampleRate, out.SampleRate)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("Samples length: want %d, got %d", len(in.Samples), len(out.Samples))
	}
	for i := range in.Samples {
		// +1.0 clamps to 32767/32768, so allow one extra step there.
		if diff := math.Abs(float64(in.Samples[i] - out.Samples[i])); diff > 2*quantStep {
			t.Errorf("sample %d: in=%v out=%v diff=%v exceeds quantisation error", i, in.Samples[i], out.Samples[i], diff)
		}
	}
}

// ─── TestEncode_ClampsOutOfRangeSamples ──────────────────────────────────────

func TestEncode_ClampsOutOfRangeSamples(t *testing.T) {
	t.Parallel()

	// A truncating cast would wrap these to the opposite sign.
	in := audio.Frame{Samples: []float32{1.5, -1.5, 2, -2}, SampleRate: 16000}
	out, err := audio.Decode(audio.Encode(in), 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	wantSign := []float32{1, -1, 1, -1}
	for i, s := range out.Samples {
		if s*wantSign[i] <= 0.99 {
			t.Errorf("sample %d: want clamp near %v, got %v", i, wantSign[i], s)
		}
	}
}

// ─── TestDecode_StereoAveragesToMono ─────────────────────────────────────────

func TestDecode_StereoAveragesToMono(t *testing.T) {
	t.Parallel()

	// Interleaved L/R int16 pairs: (1000, 3000), (-2000, -4000).
	pcm := []byte{
		0xE8, 0x03, 0xB8, 0x0B,
		0x30, 0xF8, 0x60, 0xF0,
	}
	pkt := audio.Packet{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: "audio/pcm;rate=24000",
	}

	frame, err := audio.Decode(pkt, 2)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float32{2000.0 / 32768, -3000.0 / 32768}
	if len(frame.Samples) != len(want) {
		t.Fatalf("Samples length: want %d, got %d", len(want), len(frame.Samples))
	}
	for i := range want {
		if math.Abs(float64(frame.Samples[i]-want[i])) > quantStep {
			t.Errorf("sample %d: want %v, got %v", i, want[i], frame.Samples[i])
		}
	}
}

// ─── TestDecode_MalformedPayload ─────────────────────────────────────────────

func TestDecode_MalformedPayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		pkt  audio.Packet
	}{
		{"invalid base64 alphabet", audio.Packet{Data: "not!!valid@@base64", MIMEType: "audio/pcm;rate=16000"}},
		{"odd byte count", audio.Packet{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), MIMEType: "audio/pcm;rate=16000"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.Decode(tc.pkt, 1); !errors.Is(err, audio.ErrMalformedPacket) {
				t.Fatalf("want ErrMalformedPacket, got %v", err)
			}
		})
	}
}

// ─── TestFrame_Duration ──────────────────────────────────────────────────────

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Samples: make([]float32, 4096), SampleRate: 16000}
	want := 256 // 4096/16000 s = 256 ms
	if got := f.Duration().Milliseconds(); got != int64(want) {
		t.Fatalf("Duration: want %dms, got %dms", want, got)
	}

	if d := (audio.Frame{Samples: []float32{1}}).Duration(); d != 0 {
		t.Fatalf("zero sample rate: want 0 duration, got %v", d)
	}
}
