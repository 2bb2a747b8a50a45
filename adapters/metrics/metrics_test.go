package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/artpar/restmod/adapters/metrics"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return len(f.GetMetric())
		}
	}
	return -1
}

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.RequestsTotal == nil || m.RequestDuration == nil || m.RequestsInFlight == nil {
		t.Error("request metrics not initialized")
	}
	if m.StoreErrors == nil || m.ValidationFailures == nil || m.ResponseMismatches == nil {
		t.Error("failure metrics not initialized")
	}
	if m.ConfigReloads == nil || m.ConfigReloadErrors == nil || m.ConfigLastReload == nil {
		t.Error("config metrics not initialized")
	}
}

func TestRequestsTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RequestsTotal.WithLabelValues("Game", "getAll", "2xx").Inc()
	m.RequestsTotal.WithLabelValues("Game", "create", "4xx").Add(5)

	if n := gather(t, reg, "restmod_requests_total"); n != 2 {
		t.Errorf("restmod_requests_total series = %d, want 2", n)
	}
}

func TestFailureCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.StoreErrors.WithLabelValues("Game", "update").Inc()
	m.ValidationFailures.WithLabelValues("Game", "create", "payload").Inc()
	m.ValidationFailures.WithLabelValues("Game", "getOne", "params").Inc()
	m.ResponseMismatches.WithLabelValues("Game", "getOne").Inc()

	tests := map[string]int{
		"restmod_store_errors_total":        1,
		"restmod_validation_failures_total": 2,
		"restmod_response_mismatches_total": 1,
	}
	for name, want := range tests {
		if n := gather(t, reg, name); n != want {
			t.Errorf("%s series = %d, want %d", name, n, want)
		}
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewWithRegistry(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic registering the collector twice")
		}
	}()
	metrics.NewWithRegistry(reg)
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 404: "4xx", 500: "5xx", 0: "unknown", 600: "unknown"}
	for status, want := range tests {
		if got := metrics.StatusClass(status); got != want {
			t.Errorf("StatusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
