package jobs

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"vidfetch/internal/metrics"
	"vidfetch/internal/model"
	"vidfetch/internal/store"
)

// SynthesizePolicy is the explicit, disableable policy for fabricating
// progress when the external tool reports nothing usable. Off by
// default: an idle bar is honest, a creeping one is not. When enabled
// each signal-less sample bumps progress by StepPercent, capped at 99.
type SynthesizePolicy struct {
	Enabled     bool
	StepPercent float64
}

// Reconciler merges heterogeneous progress samples for a job into a
// single non-decreasing percentage, committed through the store and
// published to subscribers.
type Reconciler struct {
	store  *store.Store
	bus    *Broadcaster
	logger *slog.Logger
	policy SynthesizePolicy
}

// NewReconciler wires a reconciler to the store and broadcaster.
func NewReconciler(st *store.Store, bus *Broadcaster, policy SynthesizePolicy, logger *slog.Logger) *Reconciler {
	if policy.StepPercent <= 0 {
		policy.StepPercent = 0.5
	}
	return &Reconciler{store: st, bus: bus, logger: logger, policy: policy}
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)

// stripANSI removes terminal escape sequences the extraction tool
// leaves in its percent strings.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// round1 rounds to one decimal place. Comparing rounded values keeps
// floating-point jitter from registering as a progress regression.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Apply reconciles one sample into the job's committed state and
// publishes the result. The candidate percentage is computed, rounded,
// and clamped so committed progress never decreases outside an
// explicit reset transition. Terminal records are left untouched, and
// a sample that changes nothing is neither committed nor published.
func (r *Reconciler) Apply(id string, s model.ProgressSample) model.JobRecord {
	rec, changed := r.store.Update(id, func(rec *model.JobRecord) {
		if rec.Status.IsTerminal() {
			return
		}

		switch s.Kind {
		case model.SampleFinished:
			// The transfer is done but the exit code is not known
			// yet, so this is processing, not completion.
			rec.Progress = 100
			if model.CanTransition(rec.Status, model.StatusProcessing) {
				rec.Status = model.StatusProcessing
			}
			metrics.RecordProgressSample("finished")
			return

		case model.SampleError:
			// Exit-code handling owns the terminal transition; the
			// message is parked in metadata so the error field stays
			// reserved for terminal error states.
			if s.ErrorMessage != "" {
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]string)
				}
				rec.Metadata["lastError"] = s.ErrorMessage
			}
			metrics.RecordProgressSample("error")
			return

		case model.SampleReconnecting:
			// Re-emit the last committed progress instead of letting
			// a reconnect look like a reset to zero.
			metrics.RecordProgressSample("reconnecting")
			return
		}

		candidate, source := candidateFrom(s)
		if source == "" {
			if !r.policy.Enabled {
				// No denominator available: progress holds until the
				// tool produces one.
				metrics.RecordProgressSample("none")
				return
			}
			candidate = math.Min(rec.Progress+r.policy.StepPercent, 99)
			source = "synthetic"
			r.logger.Debug("synthesized progress step", "id", id, "progress", candidate, "source", source)
		}

		candidate = round1(candidate)
		if candidate > 100 {
			candidate = 100
		}
		if candidate < 0 {
			candidate = 0
		}
		if candidate < round1(rec.Progress) {
			// Spurious regression (reconnect, renderer restart):
			// keep the last committed value.
			candidate = rec.Progress
		}
		rec.Progress = candidate

		if model.CanTransition(rec.Status, model.StatusDownloading) && rec.Status != model.StatusDownloading {
			rec.Status = model.StatusDownloading
		}
		metrics.RecordProgressSample(source)
	})

	if changed {
		r.bus.Publish(rec)
	}
	return rec
}

// candidateFrom computes the raw percentage for a sample, applying the
// source priority: fragments, then bytes, then the percent string.
func candidateFrom(s model.ProgressSample) (float64, string) {
	switch s.Kind {
	case model.SampleFragments:
		if s.FragmentCount > 0 {
			return float64(s.FragmentIndex) / float64(s.FragmentCount) * 100, "fragments"
		}
	case model.SampleBytes:
		if s.Total > 0 {
			return float64(s.Downloaded) / float64(s.Total) * 100, "bytes"
		}
	case model.SamplePercent:
		clean := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stripANSI(s.PercentString)), "%"))
		if v, err := strconv.ParseFloat(clean, 64); err == nil {
			return v, "percent"
		}
	}
	return 0, ""
}

// ResetForRetry rolls progress back to zero for a retry restart, the
// one sanctioned backwards transition, and publishes it.
func (r *Reconciler) ResetForRetry(id string, reason string) model.JobRecord {
	rec, changed := r.store.Update(id, func(rec *model.JobRecord) {
		if rec.Status.IsTerminal() {
			return
		}
		if !model.CanTransition(rec.Status, model.StatusRetrying) {
			return
		}
		rec.Status = model.StatusRetrying
		rec.Progress = 0
		rec.RetryCount++
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]string)
		}
		rec.Metadata["lastError"] = fmt.Sprintf("retrying after: %s", reason)
	})

	if changed {
		r.bus.Publish(rec)
	}
	return rec
}
