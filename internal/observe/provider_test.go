package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// Not parallel: installs global providers.
func TestInitProvider_ServesMetrics(t *testing.T) {
	origMP, origTP, origProp := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordChatRequest(context.Background(), 0.25, "ok")

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"healthguide_chat_requests", `status="ok"`, "go_goroutines", `service_name="healthguide"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape is missing %q", want)
		}
	}

	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()
	if CorrelationID(ctx) == "" {
		t.Error("spans are not recorded after InitProvider")
	}
	if fields := otel.GetTextMapPropagator().Fields(); !strings.Contains(strings.Join(fields, ","), "traceparent") {
		t.Errorf("propagator fields = %v", fields)
	}
}

func TestInitProvider_RejectsSampleRatio(t *testing.T) {
	t.Parallel()

	if _, err := InitProvider(context.Background(), ProviderConfig{SampleRatio: 2}); err == nil {
		t.Error("expected an error for ratio 2")
	}
}
