// Package worker computes similarity edges for new decisions off the
// request path.
//
// Jobs arrive on two bounded queues. High-priority jobs (operator-triggered
// recomputes) always drain before low-priority ones (post-deliberation
// scoring). A single consumer goroutine keeps edge writes serialized against
// the single-writer SQLite store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/model"
	"github.com/ashita-ai/gogi/internal/similarity"
	"github.com/ashita-ai/gogi/internal/storage"
	"github.com/ashita-ai/gogi/internal/telemetry"
)

// ErrQueueFull is returned by Enqueue when the target queue cannot accept
// the job without blocking. Callers fall back to inline computation.
var ErrQueueFull = errors.New("worker: queue full")

// Priority orders jobs across the two queues.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// idleInterval is how long the consumer sleeps when both queues are empty.
const idleInterval = 100 * time.Millisecond

// failureBackoff spaces retriable consumer work after a job error.
const failureBackoff = time.Second

// Edge writes contend with engine writes on the same SQLite file.
const (
	edgeSaveRetries = 3
	edgeSaveBackoff = 50 * time.Millisecond
)

// job is one similarity computation request.
type job struct {
	decisionID uuid.UUID
	enqueued   time.Time
}

// Stats is a point-in-time snapshot of worker state.
type Stats struct {
	Running              bool    `json:"running"`
	HighPending          int     `json:"high_pending"`
	LowPending           int     `json:"low_pending"`
	Active               string  `json:"active,omitempty"`
	Processed            int64   `json:"processed"`
	Failed               int64   `json:"failed"`
	SimilaritiesComputed int64   `json:"similarities_computed"`
	MaxSize              int     `json:"maxsize"`
	Batch                int     `json:"batch"`
	Threshold            float64 `json:"threshold"`
}

// SimilarityWorker consumes similarity jobs against the decision store.
type SimilarityWorker struct {
	store   *storage.Store
	backend similarity.Backend
	cfg     config.WorkerConfig
	logger  *slog.Logger

	high chan job
	low  chan job

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}

	activeID             atomic.Value // uuid.UUID of the in-flight job
	processed            atomic.Int64
	failed               atomic.Int64
	similaritiesComputed atomic.Int64
}

// New builds a stopped worker and registers its observability gauges.
func New(store *storage.Store, backend similarity.Backend, cfg config.WorkerConfig, logger *slog.Logger) *SimilarityWorker {
	w := &SimilarityWorker{
		store:   store,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		high:    make(chan job, cfg.QueueSize),
		low:     make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	w.activeID.Store(uuid.Nil)
	w.registerMetrics()
	return w
}

// Start launches the consumer goroutine. Safe to call only once; subsequent
// calls are no-ops and log a warning.
func (w *SimilarityWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("similarity worker: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.consumeLoop(loopCtx)
}

// Enqueue submits a similarity job. With delay zero the send is
// non-blocking and a full queue surfaces as ErrQueueFull. With a positive
// delay the send fires from a timer; a full queue at fire time drops the
// job with a warning, since no caller remains to take the fallback.
func (w *SimilarityWorker) Enqueue(decisionID uuid.UUID, priority Priority, delay time.Duration) error {
	target := w.low
	if priority == PriorityHigh {
		target = w.high
	}

	if delay <= 0 {
		select {
		case target <- job{decisionID: decisionID, enqueued: time.Now()}:
			return nil
		default:
			return ErrQueueFull
		}
	}

	time.AfterFunc(delay, func() {
		select {
		case target <- job{decisionID: decisionID, enqueued: time.Now()}:
		default:
			w.logger.Warn("similarity worker: delayed job dropped, queue full",
				"decision_id", decisionID, "priority", priority)
		}
	})
	return nil
}

// Stop halts intake and waits up to timeout for the in-flight job. Pending
// jobs are abandoned with a warning; the recompute path can rebuild their
// edges later.
func (w *SimilarityWorker) Stop(timeout time.Duration) {
	if !w.started.Load() {
		return
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-time.After(timeout):
		w.logger.Warn("similarity worker: stop timed out waiting for active job")
	}
	if pending := len(w.high) + len(w.low); pending > 0 {
		w.logger.Warn("similarity worker: stopped with pending jobs",
			"high", len(w.high), "low", len(w.low))
	}
}

func (w *SimilarityWorker) consumeLoop(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}

		// High priority always drains first.
		select {
		case j := <-w.high:
			w.runJob(ctx, j)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case j := <-w.high:
			w.runJob(ctx, j)
		case j := <-w.low:
			w.runJob(ctx, j)
		case <-time.After(idleInterval):
		}
	}
}

func (w *SimilarityWorker) runJob(ctx context.Context, j job) {
	w.activeID.Store(j.decisionID)
	defer w.activeID.Store(uuid.Nil)

	if err := w.Compute(ctx, j.decisionID); err != nil {
		w.failed.Add(1)
		w.logger.Error("similarity worker: job failed",
			"decision_id", j.decisionID, "queued_for", time.Since(j.enqueued), "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(failureBackoff):
		}
		return
	}
	w.processed.Add(1)
}

// Compute scores one decision against its most recent peers and upserts
// qualifying edges in both directions. Also called inline when the queue is
// full or the worker is absent.
func (w *SimilarityWorker) Compute(ctx context.Context, decisionID uuid.UUID) error {
	node, err := w.store.GetDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("worker: load decision: %w", err)
	}

	// One extra candidate absorbs the decision itself appearing in the
	// recency window.
	candidates, err := w.store.ListDecisions(ctx, w.cfg.BatchSize+1, 0)
	if err != nil {
		return fmt.Errorf("worker: list candidates: %w", err)
	}

	computed := 0
	for _, candidate := range candidates {
		if candidate.ID == node.ID {
			continue
		}
		score, err := w.backend.Score(ctx, node.Question, candidate.Question)
		if err != nil {
			w.logger.Warn("similarity worker: scoring failed, skipping candidate",
				"decision_id", node.ID, "candidate_id", candidate.ID, "error", err)
			continue
		}
		if score < w.cfg.SimilarityThreshold {
			continue
		}
		if err := w.saveBothDirections(ctx, node.ID, candidate.ID, score); err != nil {
			w.logger.Warn("similarity worker: edge save failed, skipping candidate",
				"decision_id", node.ID, "candidate_id", candidate.ID, "error", err)
			continue
		}
		computed++
	}

	w.similaritiesComputed.Add(int64(computed))
	w.logger.Debug("similarity worker: decision scored",
		"decision_id", node.ID, "candidates", len(candidates), "edges", computed)
	return nil
}

// saveBothDirections materializes the edge both ways so later lookups never
// need a symmetric query. Writes race the engine on the same database file,
// so lock contention is retried.
func (w *SimilarityWorker) saveBothDirections(ctx context.Context, a, b uuid.UUID, score float64) error {
	return storage.WithRetry(ctx, edgeSaveRetries, edgeSaveBackoff, func() error {
		if err := w.store.SaveSimilarity(ctx, model.SimilarityEdge{
			SourceID: a, TargetID: b, Score: score,
		}); err != nil {
			return err
		}
		return w.store.SaveSimilarity(ctx, model.SimilarityEdge{
			SourceID: b, TargetID: a, Score: score,
		})
	})
}

// Stats snapshots the worker state for the stats resource and gogictl.
func (w *SimilarityWorker) Stats() Stats {
	s := Stats{
		Running:              w.started.Load(),
		HighPending:          len(w.high),
		LowPending:           len(w.low),
		Processed:            w.processed.Load(),
		Failed:               w.failed.Load(),
		SimilaritiesComputed: w.similaritiesComputed.Load(),
		MaxSize:              w.cfg.QueueSize,
		Batch:                w.cfg.BatchSize,
		Threshold:            w.cfg.SimilarityThreshold,
	}
	if id, ok := w.activeID.Load().(uuid.UUID); ok && id != uuid.Nil {
		s.Active = id.String()
	}
	return s
}

// registerMetrics registers observable OTEL gauges for queue health.
func (w *SimilarityWorker) registerMetrics() {
	meter := telemetry.Meter("gogi/worker")

	_, _ = meter.Int64ObservableGauge("gogi.worker.queue_depth",
		metric.WithDescription("Pending similarity jobs across both queues"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(w.high) + len(w.low)))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("gogi.worker.failed_jobs",
		metric.WithDescription("Similarity jobs that exhausted their attempt"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(w.failed.Load())
			return nil
		}),
	)
}
