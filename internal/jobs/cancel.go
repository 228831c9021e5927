package jobs

import (
	"log/slog"
	"sync"

	"vidfetch/internal/metrics"
	"vidfetch/internal/model"
	"vidfetch/internal/store"
)

// Handle is the cancellable side of a live external process. Terminate
// must request termination and return promptly; it must not wait for
// the process to actually exit.
type Handle interface {
	Terminate()
}

// HandleFunc adapts a plain function to a Handle.
type HandleFunc func()

// Terminate calls the wrapped function.
func (f HandleFunc) Terminate() { f() }

// Coordinator binds job ids to live process handles so that a cancel
// request is both effective (the process is asked to stop) and
// consistent (the store reflects cancelled exactly once, never racing
// a concurrent completion or error write).
type Coordinator struct {
	store  *store.Store
	bus    *Broadcaster
	logger *slog.Logger

	mu    sync.Mutex
	procs map[string]Handle
}

// NewCoordinator wires a coordinator to the store and broadcaster.
func NewCoordinator(st *store.Store, bus *Broadcaster, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: st, bus: bus, logger: logger, procs: make(map[string]Handle)}
}

// RegisterProcess records the live handle for a starting download.
func (c *Coordinator) RegisterProcess(id string, h Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procs[id] = h
}

// UnregisterProcess drops the handle on natural completion.
func (c *Coordinator) UnregisterProcess(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.procs, id)
}

// Cancel requests termination of the job's process (best effort) and
// writes the cancelled state through the store. Idempotent: a job that
// already reached a terminal state is returned unchanged, since
// terminal states are sticky. Returns store.ErrNotFound only when the
// id never existed.
func (c *Coordinator) Cancel(id string) (model.JobRecord, error) {
	if _, ok := c.store.Get(id); !ok {
		return model.JobRecord{}, store.ErrNotFound
	}

	c.mu.Lock()
	h, ok := c.procs[id]
	if ok {
		delete(c.procs, id)
	}
	c.mu.Unlock()

	if ok {
		h.Terminate()
		c.logger.Info("requested process termination", "id", id)
	}

	// The state transition is authoritative immediately, whether or
	// not the process has actually exited yet. The mutator decides
	// under the store lock, so a racing completed/error write cannot
	// be overwritten. On an already-terminal job the whole call is a
	// no-op: nothing is committed, published, or re-stamped.
	rec, cancelled := c.store.Update(id, func(rec *model.JobRecord) {
		if rec.Status.IsTerminal() {
			return
		}
		rec.Status = model.StatusCancelled
		rec.Error = nil
		rec.FilePath = nil
	})

	if cancelled {
		metrics.RecordDownloadOutcome(string(model.StatusCancelled))
		c.bus.Publish(rec)
	}
	return rec, nil
}
