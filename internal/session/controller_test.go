package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/hearthline/hearthline/internal/intake"
	leadmock "github.com/hearthline/hearthline/internal/lead/mock"
	"github.com/hearthline/hearthline/internal/observe"
	"github.com/hearthline/hearthline/internal/persona"
	"github.com/hearthline/hearthline/internal/transcript"
	"github.com/hearthline/hearthline/pkg/audio"
	audiomock "github.com/hearthline/hearthline/pkg/audio/mock"
	"github.com/hearthline/hearthline/pkg/live"
	livemock "github.com/hearthline/hearthline/pkg/live/mock"
)

// ---------------------------------------------------------------------------
// Test fixture
// ---------------------------------------------------------------------------

type fixture struct {
	provider *livemock.Provider
	sess     *livemock.Session
	device   *audiomock.Device
	output   *audiomock.Output
	clock    *audiomock.Clock
	sink     *leadmock.Sink
	personas *persona.Machine
	ctrl     *Controller

	mu      sync.Mutex
	entries []transcript.Entry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		sess:   livemock.NewSession(),
		device: &audiomock.Device{},
		output: &audiomock.Output{},
		clock:  &audiomock.Clock{},
		sink:   &leadmock.Sink{},
		personas: persona.NewMachine(
			persona.Persona{Name: "front_desk", Voice: "Kore", Label: "Angela"},
			persona.Persona{Name: "emergency", Voice: "Zephyr", Label: "Mike"},
		),
	}
	f.provider = &livemock.Provider{Session: f.sess}

	log := slog.New(slog.DiscardHandler)
	assembler := transcript.NewAssembler(func(entries []transcript.Entry) {
		f.mu.Lock()
		f.entries = entries
		f.mu.Unlock()
	})
	dispatcher := intake.NewDispatcher(f.personas, f.sink, intake.WithLogger(log))

	f.ctrl = NewController(Config{
		Provider:     f.provider,
		Device:       f.device,
		Output:       f.output,
		Clock:        f.clock,
		Dispatcher:   dispatcher,
		Assembler:    assembler,
		Personas:     f.personas,
		Instructions: "You are Angela, the front desk.",
		FrameSamples: 4,
		Logger:       log,
	})

	t.Cleanup(f.ctrl.Stop)
	return f
}

func (f *fixture) transcriptEntries() []transcript.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func agentClipPacket() audio.Packet {
	return audio.Encode(audio.Frame{Samples: make([]float32, 2400), SampleRate: 24000})
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// metricTotal sums every data point recorded under name.
func metricTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			if met.Name != name {
				continue
			}
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// ─── TestController_StartOpensSessionAndStreamsAudio ─────────────────────────

func TestController_StartOpensSessionAndStreamsAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	if got := f.ctrl.State(); got != StateActive {
		t.Fatalf("state = %v; want active", got)
	}

	calls := f.provider.ConnectCalls()
	if len(calls) != 1 {
		t.Fatalf("want 1 connect, got %d", len(calls))
	}
	cfg := calls[0]
	if cfg.Voice != "Kore" {
		t.Errorf("voice = %q; want the front-desk voice", cfg.Voice)
	}
	if len(cfg.Tools) != 2 {
		t.Errorf("tools = %d; want 2", len(cfg.Tools))
	}
	if !cfg.TranscribeInput || !cfg.TranscribeOutput {
		t.Error("transcription not requested on both legs")
	}
	if cfg.InputSampleRate != 16000 || cfg.OutputSampleRate != 24000 {
		t.Errorf("sample rates = %d/%d", cfg.InputSampleRate, cfg.OutputSampleRate)
	}

	// Microphone samples flow out as encoded packets.
	f.device.Current().Push([]float32{0.1, 0.2, 0.3, 0.4})
	waitFor(t, "captured audio to reach the session", func() bool {
		return len(f.sess.AudioSent()) == 1
	})
}

// ─── TestController_StartTwiceOpensOneSession ────────────────────────────────

func TestController_StartTwiceOpensOneSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v; want ErrAlreadyStarted", err)
	}
	if got := len(f.provider.ConnectCalls()); got != 1 {
		t.Errorf("connects = %d; want exactly 1", got)
	}
	if got := f.device.AcquireCalls(); got != 1 {
		t.Errorf("device acquisitions = %d; want exactly 1", got)
	}
}

// ─── TestController_ConnectFailureReturnsToIdle ──────────────────────────────

func TestController_ConnectFailureReturnsToIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.ConnectErr = errors.New("upstream unavailable")

	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Fatal("want connect error")
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %v; want idle after failed connect", got)
	}
	if f.device.Held() {
		t.Error("device held after failed connect")
	}
}

// ─── TestController_DeviceFailureClosesSession ───────────────────────────────

func TestController_DeviceFailureClosesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.device.AcquireErr = errors.New("mic denied")

	if err := f.ctrl.Start(context.Background()); err == nil {
		t.Fatal("want device error")
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %v; want idle", got)
	}
	waitFor(t, "session close after device failure", f.sess.Closed)
}

// ─── TestController_StopDuringConnect ────────────────────────────────────────

type slowProvider struct {
	sess    live.Session
	started chan struct{}
	release chan struct{}
}

func (p *slowProvider) Connect(context.Context, live.SessionConfig) (live.Session, error) {
	close(p.started)
	<-p.release
	return p.sess, nil
}

func (p *slowProvider) Capabilities() live.Capabilities { return live.Capabilities{} }

func TestController_StopDuringConnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	slow := &slowProvider{
		sess:    f.sess,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.ctrl.cfg.Provider = slow

	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.Start(context.Background()) }()

	<-slow.started
	f.ctrl.Stop()
	close(slow.release)

	if err := <-errCh; !errors.Is(err, ErrStopped) {
		t.Fatalf("Start = %v; want ErrStopped", err)
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %v; want idle", got)
	}
	if got := f.device.AcquireCalls(); got != 0 {
		t.Errorf("device acquired %d times during abandoned connect", got)
	}
	waitFor(t, "abandoned session to close", f.sess.Closed)
}

// ─── TestController_StopReleasesMicrophoneImmediately ────────────────────────

func TestController_StopReleasesMicrophoneImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.ctrl.Stop()

	if f.device.Held() {
		t.Error("device still held after Stop returned")
	}
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %v; want idle", got)
	}
	waitFor(t, "provider close handshake", f.sess.Closed)

	// Stopping again is a no-op.
	f.ctrl.Stop()
}

// ─── TestController_InboundAudioIsScheduledGapless ───────────────────────────

func TestController_InboundAudioIsScheduledGapless(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: agentClipPacket()})
	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: agentClipPacket()})

	waitFor(t, "clips to be scheduled", func() bool {
		return f.ctrl.Scheduler().ActiveCount() == 2
	})

	clips := f.output.Clips()
	if clips[1].Start != clips[0].End() {
		t.Errorf("second clip starts at %v; want %v (back to back)", clips[1].Start, clips[0].End())
	}
}

// ─── TestController_MalformedAudioIsDropped ──────────────────────────────────

func TestController_MalformedAudioIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: audio.Packet{Data: "!!!", MIMEType: "audio/pcm;rate=24000"}})
	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: agentClipPacket()})

	waitFor(t, "the valid clip to be scheduled", func() bool {
		return f.ctrl.Scheduler().ActiveCount() == 1
	})
	if got := len(f.output.Clips()); got != 1 {
		t.Errorf("clips played = %d; the malformed packet must be skipped", got)
	}
}

// ─── TestController_BargeInFlushesPlayback ───────────────────────────────────

func TestController_BargeInFlushesPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: agentClipPacket()})
	f.sess.Emit(live.Event{Type: live.EventAudio, Audio: agentClipPacket()})
	waitFor(t, "clips to be scheduled", func() bool {
		return f.ctrl.Scheduler().ActiveCount() == 2
	})

	f.sess.Emit(live.Event{Type: live.EventInterrupted})
	waitFor(t, "flush after barge-in", func() bool {
		return f.ctrl.Scheduler().ActiveCount() == 0
	})

	for i, h := range f.output.Handles() {
		if !h.Stopped() {
			t.Errorf("clip %d not stopped on barge-in", i)
		}
	}
	if next := f.ctrl.Scheduler().NextStart(); next > f.clock.Now() {
		t.Errorf("cursor %v still ahead of clock %v after flush", next, f.clock.Now())
	}
}

// ─── TestController_ToolCallsAcknowledgedInOrder ─────────────────────────────

func TestController_ToolCallsAcknowledgedInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventToolCall, Call: live.ToolCall{
		ID: "fc-1", Name: intake.ToolSetEmergencyStatus, Args: map[string]any{"active": true},
	}})
	f.sess.Emit(live.Event{Type: live.EventToolCall, Call: live.ToolCall{
		ID: "fc-2", Name: "bogus_tool",
	}})

	waitFor(t, "both acknowledgements", func() bool {
		return len(f.sess.ToolResults()) == 2
	})

	results := f.sess.ToolResults()
	if results[0].CallID != "fc-1" || results[1].CallID != "fc-2" {
		t.Fatalf("acks out of order: %+v", results)
	}
	if results[0].Result["status"] != "ok" || results[0].Result["active_agent"] != "Mike" {
		t.Errorf("emergency ack = %v", results[0].Result)
	}
	if results[1].Result["status"] != "error" {
		t.Errorf("unknown-tool ack = %v", results[1].Result)
	}
}

// ─── TestController_LeadCaptureScenario ──────────────────────────────────────

func TestController_LeadCaptureScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	delivered := f.sink.NextSubmit()
	f.sess.Emit(live.Event{Type: live.EventToolCall, Call: live.ToolCall{
		ID:   "fc-1",
		Name: intake.ToolSubmitLead,
		Args: map[string]any{
			"name":    "Alex Rivera",
			"phone":   "555-0100",
			"summary": "furnace not igniting",
		},
	}})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for lead delivery")
	}

	recs := f.sink.Submitted()
	if len(recs) != 1 {
		t.Fatalf("want 1 lead, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Name != "Alex Rivera" || rec.Phone != "555-0100" || rec.Summary != "furnace not igniting" {
		t.Errorf("lead = %+v", rec)
	}
	if rec.Urgent {
		t.Error("routine lead marked urgent")
	}
	if rec.Agent != "Angela" {
		t.Errorf("agent = %q; want Angela", rec.Agent)
	}

	waitFor(t, "the acknowledgement", func() bool {
		return len(f.sess.ToolResults()) == 1
	})
}

// ─── TestController_EmergencyHandoffScenario ─────────────────────────────────

func TestController_EmergencyHandoffScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventToolCall, Call: live.ToolCall{
		ID: "fc-1", Name: intake.ToolSetEmergencyStatus, Args: map[string]any{"active": true},
	}})

	waitFor(t, "the emergency handoff", func() bool {
		return f.personas.State().EmergencyActive
	})
	if got := f.personas.Active(); got.Voice != "Zephyr" || got.Label != "Mike" {
		t.Errorf("active persona = %+v; want the emergency dispatcher", got)
	}
}

// ─── TestController_TranscriptAssembly ───────────────────────────────────────

func TestController_TranscriptAssembly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventPartialTranscript, Role: live.RoleCaller, Text: "my furnace"})
	f.sess.Emit(live.Event{Type: live.EventPartialTranscript, Role: live.RoleCaller, Text: "my furnace is broken"})
	f.sess.Emit(live.Event{Type: live.EventFinalTranscript, Role: live.RoleCaller, Text: "my furnace is broken"})
	f.sess.Emit(live.Event{Type: live.EventPartialTranscript, Role: live.RoleAgent, Text: "Sorry to hear that."})
	f.sess.Emit(live.Event{Type: live.EventTurnComplete})

	waitFor(t, "two settled transcript entries", func() bool {
		entries := f.transcriptEntries()
		return len(entries) == 2 && entries[0].Final && entries[1].Final
	})

	entries := f.transcriptEntries()
	if entries[0].Role != live.RoleCaller || entries[0].Text != "my furnace is broken" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Role != live.RoleAgent || entries[1].Text != "Sorry to hear that." {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

// ─── TestController_RemoteCloseReturnsToIdle ─────────────────────────────────

func TestController_RemoteCloseReturnsToIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)

	// Engage the emergency persona, then lose the connection.
	f.sess.Emit(live.Event{Type: live.EventToolCall, Call: live.ToolCall{
		ID: "fc-1", Name: intake.ToolSetEmergencyStatus, Args: map[string]any{"active": true},
	}})
	waitFor(t, "the emergency handoff", func() bool {
		return f.personas.State().EmergencyActive
	})

	f.sess.Finish(errors.New("stream reset"))

	waitFor(t, "return to idle", func() bool {
		return f.ctrl.State() == StateIdle
	})
	if f.device.Held() {
		t.Error("device still held after remote close")
	}
	if f.personas.State().EmergencyActive {
		t.Error("persona not reset after session end")
	}
}

// ─── TestController_StreamErrorsCounted ──────────────────────────────────────

func TestController_StreamErrorsCounted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m, reader := newTestMetrics(t)
	f.ctrl.cfg.Metrics = m
	f.start(t)

	f.sess.Emit(live.Event{Type: live.EventError, Err: errors.New("stream hiccup")})

	waitFor(t, "the provider error counter", func() bool {
		return metricTotal(t, reader, "hearthline.provider.errors") == 1
	})
	// The session survives a non-fatal stream error.
	if got := f.ctrl.State(); got != StateActive {
		t.Errorf("state = %v; want active", got)
	}
}

// ─── TestController_StateCallbacks ───────────────────────────────────────────

func TestController_StateCallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var mu sync.Mutex
	var states []State
	f.ctrl.cfg.OnState = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	f.start(t)
	f.ctrl.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateActive, StateClosing, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("states = %v; want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v; want %v", states, want)
		}
	}
}
