package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	m := New()
	m.IncrementBalanceDegraded("staked")
	m.IncrementBalanceDegraded("staked")
	m.IncrementTransfer("native", "confirmed")
	m.IncrementKycTransition("approved")
	m.ObserveChainLatency("submit", 30*time.Millisecond)

	if got := testutil.ToFloat64(m.BalanceDegraded.WithLabelValues("staked")); got != 2 {
		t.Fatalf("expected 2 degraded reads, got %v", got)
	}
	if got := testutil.ToFloat64(m.Transfers.WithLabelValues("native", "confirmed")); got != 1 {
		t.Fatalf("expected 1 confirmed transfer, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `wallet_balance_degraded_total{ledger="staked"} 2`) {
		t.Fatalf("metric missing from exposition:\n%s", rec.Body.String())
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementBalanceDegraded("native")
	m.IncrementTransfer("native", "failed")
	m.IncrementKycTransition("submitted")
	m.ObserveChainLatency("status", time.Second)
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestNewIsRepeatable(t *testing.T) {
	New()
	New()
}
