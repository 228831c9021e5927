package jobs

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vidfetch/internal/metrics"
	"vidfetch/internal/model"
)

// DefaultQueueSize bounds a subscriber queue when the configured size
// is missing or nonsense.
const DefaultQueueSize = 32

// Subscriber is one consumer of a job's state changes, bound to a
// single SSE connection. Its queue is bounded; a consumer that falls
// behind loses the oldest snapshots, never the producer's time.
type Subscriber struct {
	jobID string
	ch    chan model.JobRecord
	seq   atomic.Int64
}

// C is the receive side of the subscriber queue. It is closed when the
// subscriber is removed or the job's stream is torn down.
func (s *Subscriber) C() <-chan model.JobRecord {
	return s.ch
}

// Seq returns how many snapshots have been enqueued for this
// subscriber, including ones later dropped. Safe to call from the
// consumer goroutine while publishes are in flight.
func (s *Subscriber) Seq() int64 {
	return s.seq.Load()
}

// Broadcaster fans committed state changes out to per-job subscriber
// queues. It has its own lock, independent of the store's, so a busy
// fan-out never blocks store writers.
type Broadcaster struct {
	logger    *slog.Logger
	queueSize int
	grace     time.Duration

	mu       sync.Mutex
	subs     map[string][]*Subscriber
	teardown map[string]*time.Timer
}

// NewBroadcaster creates a broadcaster whose subscriber queues hold
// queueSize snapshots and whose per-job teardown fires grace after the
// first terminal publish.
func NewBroadcaster(queueSize int, grace time.Duration, logger *slog.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		logger:    logger,
		queueSize: queueSize,
		grace:     grace,
		subs:      make(map[string][]*Subscriber),
		teardown:  make(map[string]*time.Timer),
	}
}

// Subscribe registers a new bounded queue under the job id.
func (b *Broadcaster) Subscribe(jobID string) *Subscriber {
	sub := &Subscriber{
		jobID: jobID,
		ch:    make(chan model.JobRecord, b.queueSize),
	}

	b.mu.Lock()
	b.subs[jobID] = append(b.subs[jobID], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the queue and closes it. Safe to call while a
// publish for the same job is in flight, and safe to call twice.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.jobID]
	for i, s := range list {
		if s == sub {
			b.subs[sub.jobID] = append(list[:i], list[i+1:]...)
			close(s.ch)
			break
		}
	}
	if len(b.subs[sub.jobID]) == 0 {
		delete(b.subs, sub.jobID)
	}
}

// Publish enqueues the snapshot to every subscriber of the job without
// ever blocking. A full queue drops its oldest entry first; a slow
// consumer sees gaps rather than stalling the writer. The first
// terminal snapshot schedules stream teardown after the grace period
// so late subscribers can still observe the final state once.
func (b *Broadcaster) Publish(rec model.JobRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[rec.ID] {
		sub.seq.Add(1)
		select {
		case sub.ch <- rec:
			continue
		default:
		}

		// Queue full: drop the oldest snapshot to make room.
		select {
		case <-sub.ch:
			metrics.RecordBroadcastDrop()
			b.logger.Warn("subscriber queue full, dropped oldest snapshot", "id", rec.ID)
		default:
		}
		select {
		case sub.ch <- rec:
		default:
		}
	}

	if rec.Status.IsTerminal() {
		if _, scheduled := b.teardown[rec.ID]; !scheduled {
			id := rec.ID
			b.teardown[id] = time.AfterFunc(b.grace, func() {
				b.CloseJob(id)
			})
		}
	}
}

// CloseJob closes every subscriber queue for the job and forgets it.
func (b *Broadcaster) CloseJob(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[jobID] {
		close(sub.ch)
	}
	delete(b.subs, jobID)
	if t, ok := b.teardown[jobID]; ok {
		t.Stop()
		delete(b.teardown, jobID)
	}
}

// SubscriberCount reports how many queues are registered for the job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
