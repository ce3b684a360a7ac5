package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	md := findMetric(rm, name)
	if md == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := md.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s: unexpected data type %T", name, md.Data)
	}
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		if len(attrs) == 0 || dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx, "closed")
	m.RestartRecorded(ctx, "streaming limit")
	m.RestartRecorded(ctx, "streaming limit")
	m.TransportError(ctx, transcriber.KindPermissionDenied)
	m.FinalDelivered(ctx)
	m.AudioSent(ctx, 3200)
	m.AudioSent(ctx, 3200)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "streamkoshin.sessions.active"); got != 1 {
		t.Fatalf("expected 1 active session, got %d", got)
	}
	if got := sumFor(t, rm, "streamkoshin.sessions.ended", attribute.String("outcome", "closed")); got != 1 {
		t.Fatalf("expected 1 closed session, got %d", got)
	}
	if got := sumFor(t, rm, "streamkoshin.stream.restarts", attribute.String("reason", "streaming limit")); got != 2 {
		t.Fatalf("expected 2 restarts, got %d", got)
	}
	if got := sumFor(t, rm, "streamkoshin.transport.errors", attribute.String("kind", "permission_denied")); got != 1 {
		t.Fatalf("expected 1 permission error, got %d", got)
	}
	if got := sumFor(t, rm, "streamkoshin.transcripts.final"); got != 1 {
		t.Fatalf("expected 1 final, got %d", got)
	}
	if got := sumFor(t, rm, "streamkoshin.audio.sent"); got != 6400 {
		t.Fatalf("expected 6400 bytes, got %d", got)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m, reader := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	md := findMetric(collect(t, reader), "streamkoshin.http.request.duration")
	if md == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected histogram data: %+v", md.Data)
	}
	route, _ := hist.DataPoints[0].Attributes.Value("route")
	if route.AsString() != "/sessions/{id}" {
		t.Fatalf("expected route pattern, got %q", route.AsString())
	}
}
