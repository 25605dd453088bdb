package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareHarness bundles the instrumented handler with the readers the
// assertions need.
type middlewareHarness struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter

	// lastCID is the correlation ID the inner handler observed.
	lastCID string
	// status is what the inner handler writes.
	status int
}

func newMiddlewareHarness(t *testing.T) *middlewareHarness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		_ = tp.Shutdown(context.Background())
	})

	h := &middlewareHarness{reader: reader, spans: exp, status: http.StatusOK}
	h.handler = Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.lastCID = CorrelationID(r.Context())
		w.WriteHeader(h.status)
	}))
	return h
}

func (h *middlewareHarness) get(path string, hdr http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	h := newMiddlewareHarness(t)

	rec := h.get("/healthz", nil)

	if h.lastCID == "" || len(h.lastCID) != 32 {
		t.Fatalf("handler saw correlation ID %q, want 32-char trace id", h.lastCID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != h.lastCID {
		t.Errorf("X-Correlation-ID = %q, want %q (the handler's trace id)", got, h.lastCID)
	}
}

func TestMiddleware_ServerSpan(t *testing.T) {
	h := newMiddlewareHarness(t)
	h.status = http.StatusNotFound

	rec := h.get("/webhook/acme/line", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "HTTP GET /webhook/acme/line" {
		t.Errorf("span name = %q", span.Name)
	}
	var gotStatus int64
	for _, a := range span.Attributes {
		if string(a.Key) == "http.response.status_code" {
			gotStatus = a.Value.AsInt64()
		}
	}
	if gotStatus != http.StatusNotFound {
		t.Errorf("span status attribute = %d, want %d", gotStatus, http.StatusNotFound)
	}
}

func TestMiddleware_RequestDurationMetric(t *testing.T) {
	h := newMiddlewareHarness(t)

	h.get("/rooms/token", nil)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxgate.http.request.duration")
	if met == nil {
		t.Fatal("voxgate.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("metric is not a populated histogram")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/rooms/token"}
	for _, kv := range dp.Attributes.ToSlice() {
		if expect, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == expect {
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing datapoint attributes: %v", want)
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	h := newMiddlewareHarness(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	hdr := http.Header{}
	hdr.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")

	rec := h.get("/ws", hdr)

	if h.lastCID != upstream {
		t.Errorf("correlation ID = %q, want the upstream trace id %q", h.lastCID, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}
