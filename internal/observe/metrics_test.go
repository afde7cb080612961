package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a manual reader so the
// test can collect recorded data points.
func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all recorded metrics from the reader.
func collect(t *testing.T, reader *metric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return rm
}

// findMetric looks up a metric by name across all scopes. Returns nil when
// nothing was recorded under that name.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

// ─── TestNewMetrics_CreatesAllInstruments ────────────────────────────────────

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)

	if m.SessionDuration == nil || m.ChatTurnDuration == nil || m.HTTPRequestDuration == nil {
		t.Error("histograms not initialised")
	}
	if m.ToolCalls == nil || m.LeadSubmissions == nil || m.Interruptions == nil {
		t.Error("counters not initialised")
	}
	if m.FramesSent == nil || m.FramesReceived == nil || m.DecodeFailures == nil || m.ProviderErrors == nil || m.BreakerTransitions == nil {
		t.Error("audio/error counters not initialised")
	}
	if m.ActiveSessions == nil || m.ScheduledClips == nil {
		t.Error("gauges not initialised")
	}
}

// ─── TestRecordToolCall ──────────────────────────────────────────────────────

func TestRecordToolCall(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordToolCall(ctx, "submit_lead", "success")
	m.RecordToolCall(ctx, "submit_lead", "success")
	m.RecordToolCall(ctx, "set_emergency_status", "ok")

	rm := collect(t, reader)
	found := findMetric(rm, "hearthline.tool.calls")
	if found == nil {
		t.Fatal("hearthline.tool.calls not recorded")
	}
	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("want 2 attribute sets, got %d", len(sum.DataPoints))
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("total tool calls = %d; want 3", total)
	}
}

// ─── TestRecordLeadSubmission ────────────────────────────────────────────────

func TestRecordLeadSubmission(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	m.RecordLeadSubmission(context.Background(), "webhook", "error")

	rm := collect(t, reader)
	found := findMetric(rm, "hearthline.lead.submissions")
	if found == nil {
		t.Fatal("hearthline.lead.submissions not recorded")
	}
	sum := found.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("data points = %+v", sum.DataPoints)
	}
}

// ─── TestSessionDurationHistogram ────────────────────────────────────────────

func TestSessionDurationHistogram(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	m.SessionDuration.Record(context.Background(), 42.5)

	rm := collect(t, reader)
	found := findMetric(rm, "hearthline.session.duration")
	if found == nil {
		t.Fatal("hearthline.session.duration not recorded")
	}
	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("data points = %+v", hist.DataPoints)
	}
	if hist.DataPoints[0].Sum != 42.5 {
		t.Errorf("sum = %v; want 42.5", hist.DataPoints[0].Sum)
	}
}

// ─── TestActiveSessionsUpDown ────────────────────────────────────────────────

func TestActiveSessionsUpDown(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	found := findMetric(rm, "hearthline.active_sessions")
	if found == nil {
		t.Fatal("hearthline.active_sessions not recorded")
	}
	sum := found.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("data points = %+v", sum.DataPoints)
	}
}

// ─── TestDefaultMetrics_Singleton ────────────────────────────────────────────

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
