package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitorCounters(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordOrderAdmitted()
	m.RecordOrderAdmitted()
	m.RecordOrderRejected("invalid")
	m.RecordMatch(1.5)
	m.RecordEpochOpened(4)
	m.UpdateMatchingProgress(50)
	m.RecordLedgerError("submit")

	if got := testutil.ToFloat64(m.ordersAdmitted); got != 2 {
		t.Errorf("orders admitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ordersRejected.WithLabelValues("invalid")); got != 1 {
		t.Errorf("orders rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.executedVolume); got != 1.5 {
		t.Errorf("executed volume = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(m.currentEpochIndex); got != 4 {
		t.Errorf("current epoch index = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.matchingProgress); got != 50 {
		t.Errorf("matching progress = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.ledgerErrors.WithLabelValues("submit")); got != 1 {
		t.Errorf("ledger errors = %v, want 1", got)
	}
}

func TestNilMonitorIsSafe(t *testing.T) {
	var m *Monitor
	m.RecordOrderAdmitted()
	m.RecordMatch(1)
	m.RecordLedgerRequest("list", 0.1)
	m.RecordSubscriberPanic()
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordBlockCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "darkpool_engine_blocks_created_total 1") {
		t.Errorf("metrics body missing blocks counter:\n%s", rec.Body.String())
	}
}
