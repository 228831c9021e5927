package jobs

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"vidfetch/internal/model"
	"vidfetch/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "state.json"), testLogger())
	if err := st.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return st
}

func newTestReconciler(t *testing.T, policy SynthesizePolicy) (*Reconciler, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	bus := NewBroadcaster(8, time.Second, testLogger())
	return NewReconciler(st, bus, policy, testLogger()), st
}

func startJob(t *testing.T, st *store.Store, id string) {
	t.Helper()
	if _, err := st.Create(id, "https://example.com/v", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	st.Update(id, func(r *model.JobRecord) {
		r.Status = model.StatusInitializing
	})
}

func TestReconcileScenarioClampThenFinish(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	rec := r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 50, Total: 100})
	if rec.Progress != 50.0 {
		t.Fatalf("expected 50.0, got %v", rec.Progress)
	}
	if rec.Status != model.StatusDownloading {
		t.Fatalf("expected downloading, got %s", rec.Status)
	}

	// A lower sample is a spurious regression and must be clamped.
	rec = r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 40, Total: 100})
	if rec.Progress != 50.0 {
		t.Fatalf("expected clamp to 50.0, got %v", rec.Progress)
	}

	rec = r.Apply("a", model.ProgressSample{Kind: model.SampleFinished})
	if rec.Progress != 100.0 {
		t.Fatalf("expected 100.0 after finished, got %v", rec.Progress)
	}
	if rec.Status != model.StatusProcessing {
		t.Fatalf("finished means processing, not completed; got %s", rec.Status)
	}
}

func TestReconcilePercentStringStripsANSI(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	rec := r.Apply("a", model.ProgressSample{
		Kind:          model.SamplePercent,
		PercentString: "\x1b[0;94m 42.5%\x1b[0m",
	})
	if rec.Progress != 42.5 {
		t.Fatalf("expected 42.5 from ANSI percent string, got %v", rec.Progress)
	}
}

func TestReconcileFragmentRatio(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	rec := r.Apply("a", model.ProgressSample{Kind: model.SampleFragments, FragmentIndex: 3, FragmentCount: 8})
	if rec.Progress != 37.5 {
		t.Fatalf("expected 37.5 from 3/8 fragments, got %v", rec.Progress)
	}
}

func TestReconcileRoundsToOneDecimal(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	rec := r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 1, Total: 3})
	if rec.Progress != 33.3 {
		t.Fatalf("expected 33.3, got %v", rec.Progress)
	}
}

func TestReconcileNoSignalHoldsProgress(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 30, Total: 100})
	rec := r.Apply("a", model.ProgressSample{Kind: model.SamplePercent})
	if rec.Progress != 30.0 {
		t.Fatalf("expected progress held at 30.0 with no signal, got %v", rec.Progress)
	}
}

func TestReconcileSyntheticPolicyBumpsWhenEnabled(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{Enabled: true, StepPercent: 2})
	startJob(t, st, "a")

	r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 30, Total: 100})
	rec := r.Apply("a", model.ProgressSample{Kind: model.SamplePercent})
	if rec.Progress != 32.0 {
		t.Fatalf("expected synthetic bump to 32.0, got %v", rec.Progress)
	}
}

func TestReconcileReconnectingKeepsProgress(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 70, Total: 100})
	rec := r.Apply("a", model.ProgressSample{Kind: model.SampleReconnecting})
	if rec.Progress != 70.0 {
		t.Fatalf("expected 70.0 re-emitted on reconnect, got %v", rec.Progress)
	}
}

func TestReconcileIgnoresTerminalRecords(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")
	st.Update("a", func(rec *model.JobRecord) {
		rec.Status = model.StatusCancelled
	})

	rec := r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 90, Total: 100})
	if rec.Status != model.StatusCancelled || rec.Progress != 0 {
		t.Fatalf("terminal record must not change, got %+v", rec)
	}
}

func TestReconcileDoesNotRepublishTerminalSnapshots(t *testing.T) {
	st := newTestStore(t)
	bus := NewBroadcaster(8, time.Second, testLogger())
	r := NewReconciler(st, bus, SynthesizePolicy{}, testLogger())

	startJob(t, st, "a")
	st.Update("a", func(rec *model.JobRecord) {
		rec.Status = model.StatusCancelled
	})
	before, _ := st.Get("a")

	sub := bus.Subscribe("a")
	defer bus.Unsubscribe(sub)

	// A late sample landing on a finished job must be a full no-op:
	// no commit, no UpdatedAt refresh, no broadcast.
	r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 90, Total: 100})

	select {
	case rec := <-sub.C():
		t.Fatalf("terminal record must not be republished, got %+v", rec)
	default:
	}
	after, _ := st.Get("a")
	if after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("late sample moved UpdatedAt: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestResetForRetryRollsProgressBack(t *testing.T) {
	r, st := newTestReconciler(t, SynthesizePolicy{})
	startJob(t, st, "a")

	r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 80, Total: 100})
	rec := r.ResetForRetry("a", "connection reset")
	if rec.Status != model.StatusRetrying {
		t.Fatalf("expected retrying, got %s", rec.Status)
	}
	if rec.Progress != 0 {
		t.Fatalf("expected progress reset to 0, got %v", rec.Progress)
	}
	if rec.RetryCount != 1 {
		t.Fatalf("expected retryCount 1, got %d", rec.RetryCount)
	}

	// After the reset, fresh low samples are accepted again.
	rec = r.Apply("a", model.ProgressSample{Kind: model.SampleBytes, Downloaded: 10, Total: 100})
	if rec.Progress != 10.0 {
		t.Fatalf("expected 10.0 after reset transition, got %v", rec.Progress)
	}
}
