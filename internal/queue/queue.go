// Dynolink - Dyno Telemetry Acquisition and Live Analysis
// Copyright 2026 Dynolink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dynolink/dynolink

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dynolink/dynolink/internal/logging"
	"github.com/dynolink/dynolink/internal/metrics"
	"github.com/dynolink/dynolink/internal/telemetry"
)

// Handler processes one drained item. A nil return confirms the item; an
// error schedules another attempt until the budget is exhausted.
type Handler func(ctx context.Context, item *Item) error

// Config holds ingestion queue parameters.
type Config struct {
	// Capacity bounds the total number of queued items across all tiers.
	Capacity int `koanf:"capacity"`

	// BatchSize is the maximum number of items drained per interval.
	BatchSize int `koanf:"batch_size"`

	// FlushInterval is the processor's drain cadence.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaxAttempts is the handler attempt budget per item before the item
	// moves to the dead-letter store.
	MaxAttempts int `koanf:"max_attempts"`

	// Persist enables write-through journaling of enqueued items for crash
	// recovery. Requires Path.
	Persist bool `koanf:"persist"`

	// Path is the badger directory for the journal and dead-letter store.
	// Empty selects an in-memory store (tests, ephemeral sessions).
	Path string `koanf:"path"`
}

// DefaultConfig returns the documented queue defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:      10000,
		BatchSize:     100,
		FlushInterval: time.Second,
		MaxAttempts:   3,
	}
}

// Health is a point-in-time snapshot of queue counters.
type Health struct {
	Enqueued        int64 `json:"enqueued"`
	Processed       int64 `json:"processed"`
	Failed          int64 `json:"failed"`
	Dropped         int64 `json:"dropped"`
	Depth           int   `json:"depth"`
	DeadLetterDepth int   `json:"dead_letter_depth"`
}

// Queue is the bounded priority ingestion queue. Producers call Enqueue from
// reader goroutines; a single processor goroutine drains batches into the
// handler. Counters use atomics, tier storage uses one mutex.
type Queue struct {
	cfg     Config
	handler Handler
	logger  zerolog.Logger

	mu    sync.Mutex
	tiers [numPriorities][]*Item
	size  int
	seq   uint64

	enqueued  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	dead    *DeadLetterStore
	journal *Journal

	flushCh chan chan struct{}
}

// New creates an ingestion queue. The handler is invoked from the processor
// goroutine only. When cfg.Persist is set, unconfirmed items from a previous
// run are replayed into the queue before New returns.
func New(cfg Config, handler Handler) (*Queue, error) {
	defaults := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaults.Capacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if handler == nil {
		return nil, errors.New("queue: handler is required")
	}

	store, err := openStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("queue: open store: %w", err)
	}

	q := &Queue{
		cfg:     cfg,
		handler: handler,
		logger:  logging.With().Str("component", "queue").Logger(),
		dead:    newDeadLetterStore(store),
		flushCh: make(chan chan struct{}, 1),
	}
	if cfg.Persist {
		q.journal = newJournal(store)
		if err := q.replayJournal(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("queue: replay journal: %w", err)
		}
	}
	return q, nil
}

// replayJournal re-enqueues unconfirmed items from a previous run.
func (q *Queue) replayJournal() error {
	items, err := q.journal.Replay()
	if err != nil {
		return err
	}
	for _, item := range items {
		q.admit(item)
	}
	if len(items) > 0 {
		q.logger.Info().Int("items", len(items)).Msg("replayed unconfirmed items from journal")
	}
	return nil
}

// Enqueue admits an item without blocking. On overflow the oldest item of
// the least important admissible tier is dropped to make room; if every
// queued item outranks the newcomer, the newcomer itself is dropped. Both
// outcomes increment the dropped counter; overflow is informational, not
// an error.
func (q *Queue) Enqueue(item *Item) {
	if item == nil || !item.Priority.valid() {
		return
	}

	q.mu.Lock()
	if q.size >= q.cfg.Capacity {
		victim := q.evictLocked(item.Priority)
		if victim == nil {
			// Everything queued outranks the newcomer.
			q.mu.Unlock()
			q.dropped.Add(1)
			metrics.QueueDropped.WithLabelValues(item.Priority.String()).Inc()
			return
		}
		q.dropped.Add(1)
		metrics.QueueDropped.WithLabelValues(victim.Priority.String()).Inc()
		if victim.Priority == PriorityCritical {
			q.logger.Warn().Str("item", victim.ID).Msg("critical item dropped on overflow")
		}
		if q.journal != nil {
			q.journal.Confirm(victim.ID)
		}
	}
	q.admitLocked(item)
	q.mu.Unlock()

	q.enqueued.Add(1)
	metrics.QueueEnqueued.WithLabelValues(item.Priority.String()).Inc()
	metrics.QueueDepth.Set(float64(q.Depth()))

	if q.journal != nil {
		q.journal.Append(item)
	}
}

// admit inserts without overflow handling (journal replay path).
func (q *Queue) admit(item *Item) {
	q.mu.Lock()
	q.admitLocked(item)
	q.mu.Unlock()
	q.enqueued.Add(1)
}

func (q *Queue) admitLocked(item *Item) {
	q.seq++
	item.seq = q.seq
	q.tiers[item.Priority] = append(q.tiers[item.Priority], item)
	q.size++
}

// evictLocked removes and returns the oldest item of the least important
// non-empty tier that does not outrank incoming. Returns nil when no tier
// is admissible.
func (q *Queue) evictLocked(incoming Priority) *Item {
	for tier := int(PriorityBatch); tier >= int(incoming); tier-- {
		if len(q.tiers[tier]) == 0 {
			continue
		}
		victim := q.tiers[tier][0]
		q.tiers[tier] = q.tiers[tier][1:]
		q.size--
		return victim
	}
	return nil
}

// dequeueBatch removes up to max items in {priority, sequence} order.
func (q *Queue) dequeueBatch(max int) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]*Item, 0, max)
	for tier := 0; tier < numPriorities && len(batch) < max; tier++ {
		for len(q.tiers[tier]) > 0 && len(batch) < max {
			batch = append(batch, q.tiers[tier][0])
			q.tiers[tier] = q.tiers[tier][1:]
			q.size--
		}
	}
	return batch
}

// Depth returns the current number of queued items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Health returns a snapshot of queue counters.
func (q *Queue) Health() Health {
	return Health{
		Enqueued:        q.enqueued.Load(),
		Processed:       q.processed.Load(),
		Failed:          q.failed.Load(),
		Dropped:         q.dropped.Load(),
		Depth:           q.Depth(),
		DeadLetterDepth: q.dead.Len(),
	}
}

// DeadLetters returns the dead-letter store for inspection and replay.
func (q *Queue) DeadLetters() *DeadLetterStore {
	return q.dead
}

// Flush asks the processor to drain the queue completely and waits for it.
// Called on session stop to guarantee no buffered data is lost.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case q.flushCh <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs the background processor until ctx is canceled. It drains one
// batch per interval tick and drains to empty on Flush. Implements
// suture.Service. A final flush runs on shutdown.
func (q *Queue) Serve(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.drainAll(context.Background())
			return ctx.Err()
		case <-ticker.C:
			q.processBatch(ctx)
		case done := <-q.flushCh:
			q.drainAll(ctx)
			close(done)
		}
	}
}

// drainAll processes batches until the queue is empty.
func (q *Queue) drainAll(ctx context.Context) {
	for q.Depth() > 0 {
		if q.processBatch(ctx) == 0 {
			return
		}
	}
}

// processBatch drains one batch into the handler. Returns the number of
// items drained.
func (q *Queue) processBatch(ctx context.Context) int {
	batch := q.dequeueBatch(q.cfg.BatchSize)
	for _, item := range batch {
		q.processItem(ctx, item)
	}
	if len(batch) > 0 {
		metrics.QueueDepth.Set(float64(q.Depth()))
	}
	return len(batch)
}

// processItem runs the handler for one item and routes the outcome:
// confirm, requeue, or dead-letter.
func (q *Queue) processItem(ctx context.Context, item *Item) {
	item.Attempts++
	err := q.handler(ctx, item)
	if err == nil {
		q.processed.Add(1)
		metrics.QueueProcessed.Inc()
		if q.journal != nil {
			q.journal.Confirm(item.ID)
		}
		return
	}

	q.failed.Add(1)
	metrics.QueueFailed.Inc()

	if item.Attempts >= q.cfg.MaxAttempts {
		q.logger.Error().
			Err(err).
			Str("item", item.ID).
			Int("attempts", item.Attempts).
			Int("samples", len(item.Samples)).
			Str("priority", item.Priority.String()).
			Msg("max attempts exceeded, moving item to dead-letter store")
		if dlErr := q.dead.Add(item, err); dlErr != nil {
			q.logger.Error().Err(dlErr).Str("item", item.ID).Msg("dead-letter store write failed")
		}
		metrics.DeadLetterAdded.Inc()
		metrics.DeadLetterDepth.Set(float64(q.dead.Len()))
		if q.journal != nil {
			q.journal.Confirm(item.ID)
		}
		return
	}

	q.logger.Warn().
		Err(err).
		Str("item", item.ID).
		Int("attempt", item.Attempts).
		Msg("handler failed, item requeued")
	q.mu.Lock()
	q.admitLocked(item)
	q.mu.Unlock()
}

// RetryDeadLetter re-enqueues one dead-letter item by id with a fresh
// attempt budget.
func (q *Queue) RetryDeadLetter(id string) error {
	entry, err := q.dead.Get(id)
	if err != nil {
		return err
	}
	if err := q.dead.Remove(id); err != nil {
		return err
	}
	metrics.DeadLetterDepth.Set(float64(q.dead.Len()))

	item := entry.Item
	item.Attempts = 0
	q.Enqueue(&item)
	return nil
}

// EnqueueSamples is a producer convenience: wraps a sample batch into an
// item and enqueues it.
func (q *Queue) EnqueueSamples(priority Priority, samples []telemetry.Sample) {
	if len(samples) == 0 {
		return
	}
	q.Enqueue(NewItem(priority, samples))
}

// Close releases the badger store. The processor must be stopped first.
func (q *Queue) Close() error {
	return q.dead.close()
}
