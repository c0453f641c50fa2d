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
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// resetRegistration lets a test pick its own registration state without
// leaking it into the rest of the package's tests.
func resetRegistration(t *testing.T) {
	t.Helper()
	original := regOK.Load()
	regOK.Store(false)
	t.Cleanup(func() { regOK.Store(original) })
}

// gatheredNames maps every gathered metric family to its sample count.
func gatheredNames(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]int, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = len(mf.GetMetric())
	}
	return names
}

func TestRegisterCollectsEverything(t *testing.T) {
	resetRegistration(t)

	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be a no-op: %v", err)
	}

	IncEvaluation("reg-1", "ok")
	IncEvaluation("reg-1", "ok")
	IncEvaluation("reg-1", "timeout")
	ObserveEvalDuration("reg-1", 0.42)
	ObserveEvalDepth("reg-1", 18)
	SetQueueLength(2)
	SetEnginesTotal(4)
	SetEnginesBusy(1)
	IncEngineCrash("reg-2")

	names := gatheredNames(t, reg)
	for _, want := range []string{
		"kibitz_pool_evaluations_total",
		"kibitz_pool_evaluation_duration_seconds",
		"kibitz_pool_evaluation_depth",
		"kibitz_pool_queue_length",
		"kibitz_pool_engines_total",
		"kibitz_pool_engines_busy",
		"kibitz_engine_crashes_total",
	} {
		if n, ok := names[want]; !ok {
			t.Errorf("metric %s not gathered", want)
		} else if n == 0 {
			t.Errorf("metric %s has no samples", want)
		}
	}

	if got := testutil.ToFloat64(evaluations.WithLabelValues("reg-1", "ok")); got != 2 {
		t.Errorf("evaluations{reg-1,ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(engineCrashes.WithLabelValues("reg-2")); got != 1 {
		t.Errorf("crashes{reg-2} = %v, want 1", got)
	}
}

func TestRegisterFailure(t *testing.T) {
	resetRegistration(t)

	wantErr := errors.New("registry full")
	if err := Register(failRegisterer{err: wantErr}); !errors.Is(err, wantErr) {
		t.Fatalf("expected the registerer's error, got %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed registration must not mark metrics live")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	resetRegistration(t)

	// Handler serves the default gatherer, so register there. A previous
	// registration in this process surfaces as AlreadyRegisteredError,
	// which Register tolerates.
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}
	IncEvaluation("handler-1", "ok")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "kibitz_pool_evaluations_total") {
		t.Fatalf("metrics output missing evaluations_total")
	}
}

func TestHelpersConcurrent(t *testing.T) {
	resetRegistration(t)

	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncEvaluation("conc-1", "ok")
			ObserveEvalDuration("conc-1", 0.1)
			SetQueueLength(3)
			IncEngineCrash("conc-1")
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(evaluations.WithLabelValues("conc-1", "ok")); got != 50 {
		t.Fatalf("evaluations{conc-1,ok} = %v, want 50", got)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestHelpersNoOpBeforeRegister(t *testing.T) {
	resetRegistration(t)

	IncEvaluation("noop-1", "ok")
	ObserveEvalDuration("noop-1", 1.0)
	ObserveEvalDepth("noop-1", 12)
	SetQueueLength(1)
	SetEnginesTotal(1)
	SetEnginesBusy(0)
	IncEngineCrash("noop-1")

	// The gate swallowed everything, not just avoided panics.
	if got := testutil.ToFloat64(evaluations.WithLabelValues("noop-1", "ok")); got != 0 {
		t.Fatalf("evaluations{noop-1,ok} = %v, want 0 before Register", got)
	}
}

// failRegisterer rejects every collector.
type failRegisterer struct{ err error }

func (f failRegisterer) Register(prometheus.Collector) error  { return f.err }
func (f failRegisterer) MustRegister(...prometheus.Collector) {}
func (f failRegisterer) Unregister(prometheus.Collector) bool { return false }
