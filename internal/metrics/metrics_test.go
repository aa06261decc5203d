package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObserveTask("build", OutcomeSuccess, 1.25)
	ObserveTask("release", OutcomeFailure, 3)
	ObserveTask("build", OutcomeRejected, 0)
	RecordStateTransition("idle", "building")
	SetSchemaVersion("default", 4)
	SetPendingMigrations("default", 2)
	SetRunUsage(12.5, 1<<20)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"firestarter_task_runs_total":                      false,
		"firestarter_task_duration_seconds":                false,
		"firestarter_orchestrator_state_transitions_total": false,
		"firestarter_orchestrator_current_state":           false,
		"firestarter_migration_schema_version":             false,
		"firestarter_migration_pending":                    false,
		"firestarter_run_cpu_percent":                      false,
		"firestarter_run_memory_rss_bytes":                 false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
		if n == "firestarter_task_duration_seconds" {
			// rejected tasks are counted but not timed
			var total uint64
			for _, m := range mf.GetMetric() {
				total += m.GetHistogram().GetSampleCount()
			}
			if total != 2 {
				t.Fatalf("expected 2 duration samples, got %d", total)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration in this test regardless of previous tests.
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	ObserveTask("migrate", OutcomeSuccess, 0.2)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "firestarter_task_runs_total") {
		t.Fatalf("metrics output missing runs_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ObserveTask("build", OutcomeSuccess, 0.1)
			RecordStateTransition("idle", "running")
			SetPendingMigrations("api", 1)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestHelpersBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	ObserveTask("build", OutcomeSuccess, 1)
	RecordStateTransition("idle", "building")
	SetSchemaVersion("default", 1)
	SetPendingMigrations("default", 0)
	SetRunUsage(0, 0)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed registration must leave helpers disabled")
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}

func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
