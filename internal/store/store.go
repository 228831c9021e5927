package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"vidfetch/internal/metrics"
	"vidfetch/internal/model"
)

// ErrNotFound is returned when a job id has never been stored.
var ErrNotFound = errors.New("job not found")

// Store is the single source of truth for job state. All mutation
// funnels through Update/Delete, which hold one mutex across both the
// in-memory change and the durable commit. Interleaving those two
// steps between writers is how state files get corrupted, so the lock
// scope is deliberately wide even though it serializes fsyncs.
type Store struct {
	path       string
	backupPath string
	tempPath   string

	logger *slog.Logger

	mu       sync.Mutex
	jobs     map[string]*model.JobRecord
	degraded bool
}

// New creates a store backed by the given state file path. Call
// Initialize before use.
func New(path string, logger *slog.Logger) *Store {
	return &Store{
		path:       path,
		backupPath: path + ".backup",
		tempPath:   path + ".temp",
		logger:     logger,
		jobs:       make(map[string]*model.JobRecord),
	}
}

// Initialize loads the state map from disk. A corrupt or missing
// primary falls back to the backup file; if both are unusable the
// store starts empty and writes a fresh primary. Only an unwritable
// state directory is a hard error.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	loaded, ok := s.loadFile(s.path)
	if !ok {
		loaded, ok = s.loadFile(s.backupPath)
		if ok {
			s.logger.Info("state restored from backup", "path", s.backupPath)
		}
	}
	if !ok {
		loaded = make(map[string]*model.JobRecord)
	}
	s.jobs = loaded
	expired := 0
	for id, rec := range s.jobs {
		rec.ID = id
		// A recovered in-flight job has no goroutine driving it
		// anymore, so it can never progress. Expiring it makes it
		// terminal and eventually evictable.
		if !rec.Status.IsTerminal() {
			rec.Status = model.StatusExpired
			rec.Touch()
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info("expired orphaned in-flight jobs from previous run", "jobs", expired)
	}

	// Rewrite the primary so recovery (or a fresh start) is durable
	// before the first update arrives.
	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("write initial state file: %w", err)
	}

	s.logger.Info("job store initialized", "path", s.path, "jobs", len(s.jobs))
	return nil
}

func (s *Store) loadFile(path string) (map[string]*model.JobRecord, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("read state file failed", "path", path, "error", err)
		}
		return nil, false
	}
	if len(data) == 0 {
		return make(map[string]*model.JobRecord), true
	}

	var out map[string]*model.JobRecord
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Error("state file is not valid JSON", "path", path, "error", err)
		return nil, false
	}
	if out == nil {
		out = make(map[string]*model.JobRecord)
	}
	return out, true
}

// Get returns a copy of the record, or false if the id was never stored.
func (s *Store) Get(id string) (model.JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return model.JobRecord{}, false
	}
	return rec.Clone(), true
}

// ListAll returns snapshot copies of every record. Callers can mutate
// the result freely without observing or causing partial writes.
func (s *Store) ListAll() []model.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.Clone())
	}
	return out
}

// Create inserts a fresh pending record for a submitted job. Fails if
// the id is already present.
func (s *Store) Create(id, url string, metadata map[string]string) (model.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return model.JobRecord{}, fmt.Errorf("job %s already exists", id)
	}
	now := float64(time.Now().UnixMilli()) / 1000
	rec := &model.JobRecord{
		ID:        id,
		Status:    model.StatusPending,
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	s.jobs[id] = rec

	s.commitLocked()
	return rec.Clone(), nil
}

// Update is the only mutation path. It applies mutate to the current
// record (creating one with a warning when the id is absent, which
// tolerates create/update races from background goroutines), stamps
// UpdatedAt, commits durably, and returns the committed copy for
// publishing plus whether anything changed. A mutator that declines to
// touch the record (a terminal guard, a held progress sample) must not
// refresh UpdatedAt: eviction eligibility is measured from the last
// real change, and a no-op must not rewrite the state file either.
func (s *Store) Update(id string, mutate func(*model.JobRecord)) (model.JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		s.logger.Warn("update for unknown job id, creating record", "id", id)
		now := float64(time.Now().UnixMilli()) / 1000
		rec = &model.JobRecord{ID: id, Status: model.StatusPending, CreatedAt: now}
		s.jobs[id] = rec
	}

	before := rec.Clone()
	mutate(rec)
	rec.ID = id
	if ok && reflect.DeepEqual(*rec, before) {
		return before, false
	}
	rec.Touch()

	s.commitLocked()
	return rec.Clone(), true
}

// Delete removes the record and durably commits. Deleting an absent
// id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return
	}
	delete(s.jobs, id)
	s.commitLocked()
}

// CleanupOlderThan removes every terminal record whose last update is
// older than maxAge, invoking removeArtifact for its file (when set)
// before the record itself goes. Non-terminal records are never
// removed regardless of age: an old but live download must keep its
// state. Returns the removed records.
func (s *Store) CleanupOlderThan(maxAge time.Duration, removeArtifact func(path string) error) []model.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var removed []model.JobRecord
	for id, rec := range s.jobs {
		if !rec.Status.IsTerminal() {
			continue
		}
		if rec.Age(now) <= maxAge {
			continue
		}
		if rec.FilePath != nil && removeArtifact != nil {
			if err := removeArtifact(*rec.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Error("remove artifact failed", "id", id, "path", *rec.FilePath, "error", err)
				continue
			}
		}
		removed = append(removed, rec.Clone())
		delete(s.jobs, id)
	}

	if len(removed) > 0 {
		s.commitLocked()
	}
	return removed
}

// Degraded reports whether a durable commit has failed twice in a row
// at some point, meaning the on-disk state may lag the in-memory map.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// commitLocked persists with a single retry. A double failure leaves
// the in-memory map authoritative for the rest of the process lifetime
// and flips the degraded flag for the health endpoint; it never fails
// the job-level operation that triggered it.
func (s *Store) commitLocked() {
	err := s.persistLocked()
	if err != nil {
		s.logger.Error("state commit failed, retrying once", "error", err)
		err = s.persistLocked()
	}
	if err != nil {
		s.logger.Error("state commit failed twice, running with degraded durability", "error", err)
		s.degraded = true
		metrics.RecordStoreCommit(false)
		return
	}
	metrics.RecordStoreCommit(true)
}

// persistLocked writes the full map with the two-phase rename
// protocol: temp write + fsync, verify by re-reading, rename primary
// to backup, rename temp into primary. A crash between the two renames
// leaves no primary but a complete backup, which Initialize picks up.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	f, err := os.OpenFile(s.tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	// Verify the bytes that actually hit disk parse back, so a bad
	// write can never be renamed over a good primary.
	check, err := os.ReadFile(s.tempPath)
	if err != nil {
		return fmt.Errorf("verify temp state file: %w", err)
	}
	var probe map[string]*model.JobRecord
	if err := json.Unmarshal(check, &probe); err != nil {
		return fmt.Errorf("temp state file failed verification: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath); err != nil {
			return fmt.Errorf("rotate backup: %w", err)
		}
	}
	if err := os.Rename(s.tempPath, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
