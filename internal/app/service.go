// Package service wires the pipeline together: ingestion, identity
// resolution, series building, transient tracking, and the derivation
// worker pool, with a store collecting everything the run finalizes.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/google/uuid"

	jobqueue "github.com/replaymetrics/pivot/internal/adapters/mq/queue"
	workerpool "github.com/replaymetrics/pivot/internal/adapters/mq/worker"
	"github.com/replaymetrics/pivot/internal/adapters/repository"
	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/internal/domain/stream"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/internal/domain/transient"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Recovered error kinds surfaced in the run summary.
const (
	RecoveredUnknownSlot  = "unknown_slot"
	RecoveredSealedEntity = "sealed_entity"
	RecoveredUnknownClass = "unknown_class"
)

// Summary is the result of one completed run.
type Summary struct {
	RunID uuid.UUID

	// Records is the number of input records consumed.
	Records int

	// Ticks is the number of distinct ticks observed.
	Ticks int

	// Entities is the number of finalized entities.
	Entities int

	// Dropped counts records discarded without touching any series.
	Dropped int

	// Recovered counts non-fatal per-record errors by kind. Recovered
	// records never abort the stream.
	Recovered map[string]int
}

// Service runs the reconciliation pipeline over one record stream.
// Identity resolution and series building are strictly sequential; the
// derivation of sealed, finalized series runs on the worker pool.
type Service struct {
	schemas  *schema.Set
	features derive.FeatureSet
	store    repository.Store

	workerCount int
	queueSize   int

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of derivation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the derivation queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithStore sets the store receiving finalized artifacts.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service over a validated schema set and feature set.
func New(schemas *schema.Set, features derive.FeatureSet, opts ...Option) *Service {
	s := &Service{
		schemas:     schemas,
		features:    features,
		workerCount: runtime.NumCPU(),
		queueSize:   4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("pipeline")
	}
	return s
}

// Store returns the store holding the run's finalized artifacts.
func (s *Service) Store() repository.Store {
	return s.store
}

// Tables shapes everything finalized so far into export tables.
func (s *Service) Tables(ctx context.Context) []*table.Table {
	return s.store.Tables(ctx, s.schemas)
}

// Export writes every table through each sink.
func (s *Service) Export(ctx context.Context, sinks ...table.Sink) error {
	for _, t := range s.Tables(ctx) {
		for _, sink := range sinks {
			if err := sink.Export(ctx, t); err != nil {
				return fmt.Errorf("exporting table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// Run consumes the record source to exhaustion. Recoverable per-record
// errors are counted and surfaced in the summary; a fatal error aborts
// the stream and is returned, with everything finalized up to that point
// still available through Store.
func (s *Service) Run(ctx context.Context, src stream.Source) (*Summary, error) {
	deriver, err := derive.New(s.schemas, s.features)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	builder := series.NewBuilder(s.schemas)
	tracker := transient.New(s.schemas, reg)
	q := jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(s.queueSize))
	pool := workerpool.NewPool(s.workerCount, q, deriver, s.store)
	pool.Start(ctx)

	run := &runState{
		svc:     s,
		reg:     reg,
		builder: builder,
		tracker: tracker,
		queue:   q,
		open:    make(map[registry.Handle]*registry.Entity),
		summary: &Summary{
			RunID:     uuid.New(),
			Recovered: make(map[string]int),
		},
	}

	s.logger.Info(ctx, "run started",
		logger.String("runID", run.summary.RunID.String()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)

	if err := run.consume(ctx, stream.New(src)); err != nil {
		// Workers may still hold finalized series; let them land so the
		// tables of already-sealed entities survive the abort.
		if drainErr := pool.Drain(ctx); drainErr != nil {
			s.logger.Error(ctx, "drain after fatal error failed", logger.Error(drainErr))
		}
		return nil, err
	}

	// End of stream: seal and finalize whatever is still live.
	reg.SealAll(ctx)
	if err := run.sweep(ctx); err != nil {
		_ = pool.Drain(ctx)
		return nil, err
	}

	if err := pool.Drain(ctx); err != nil {
		return nil, fmt.Errorf("draining derivation pool: %w", err)
	}

	s.logger.Info(ctx, "run finished",
		logger.String("runID", run.summary.RunID.String()),
		logger.Int("records", run.summary.Records),
		logger.Int("ticks", run.summary.Ticks),
		logger.Int("entities", run.summary.Entities),
		logger.Int("dropped", run.summary.Dropped),
	)
	return run.summary, nil
}

// runState is the mutable state of one Run invocation.
type runState struct {
	svc     *Service
	reg     *registry.Registry
	builder *series.Builder
	tracker *transient.Tracker
	queue   jobqueue.Queue
	open    map[registry.Handle]*registry.Entity
	summary *Summary
}

func (r *runState) consume(ctx context.Context, ing *stream.Ingester) error {
	for {
		_, batch, err := ing.NextTick(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		r.summary.Ticks++

		for _, rec := range batch {
			if err := r.apply(ctx, rec); err != nil {
				return err
			}
		}

		// A lost destroy seals the previous entity inside the registry
		// when its slot is re-spawned; catch those here.
		if err := r.sweep(ctx); err != nil {
			return err
		}
	}
}

// apply processes one record through identity resolution and series
// building.
func (r *runState) apply(ctx context.Context, rec *model.RawRecord) error {
	r.summary.Records++

	if _, declared := r.svc.schemas.Class(rec.Class); !declared {
		r.recover(ctx, RecoveredUnknownClass, rec)
		r.summary.Dropped++
		metrics.RecordDropped()
		return nil
	}

	ent, err := r.reg.Resolve(ctx, rec.Slot, rec.Tick, rec.Lifecycle, rec.Class)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrSealedEntity):
			r.recover(ctx, RecoveredSealedEntity, rec)
			r.summary.Dropped++
			metrics.RecordDropped()
			return nil
		case errors.Is(err, registry.ErrUnknownSlot):
			r.recover(ctx, RecoveredUnknownSlot, rec)
		default:
			return err
		}
	}

	if _, known := r.open[ent.Handle]; !known {
		r.open[ent.Handle] = ent
		r.tracker.OnSpawn(ctx, ent, rec)
	}

	if err := r.builder.Append(ctx, ent, rec.Tick, rec.Fields); err != nil {
		return fmt.Errorf("appending record for slot %d at tick %d: %w", rec.Slot, rec.Tick, err)
	}

	if rec.Lifecycle == model.LifecycleDestroy {
		r.tracker.OnDestroy(ctx, ent, rec)
	}
	if ent.Sealed {
		return r.finalize(ctx, ent)
	}
	return nil
}

// sweep finalizes open entities the registry sealed out of band.
func (r *runState) sweep(ctx context.Context) error {
	for _, ent := range r.open {
		if !ent.Sealed {
			continue
		}
		if err := r.finalize(ctx, ent); err != nil {
			return err
		}
	}
	return nil
}

// finalize freezes one sealed entity: series to the store and the
// derivation queue, summary row for tracked transients.
func (r *runState) finalize(ctx context.Context, ent *registry.Entity) error {
	delete(r.open, ent.Handle)

	out, err := r.builder.Finalize(ctx, ent)
	if err != nil {
		return fmt.Errorf("finalizing handle %d: %w", ent.Handle, err)
	}
	if err := r.svc.store.PutSeries(ctx, out); err != nil {
		return fmt.Errorf("storing series for handle %d: %w", ent.Handle, err)
	}
	if sum := r.tracker.OnFinalize(ctx, out); sum != nil {
		if err := r.svc.store.PutSummary(ctx, sum); err != nil {
			return fmt.Errorf("storing summary for handle %d: %w", ent.Handle, err)
		}
	}
	r.summary.Entities++

	// Backpressure: the queue is bounded, the stream is not.
	for !r.queue.Enqueue(ctx, out) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (r *runState) recover(ctx context.Context, kind string, rec *model.RawRecord) {
	r.summary.Recovered[kind]++
	metrics.RecordRecoveredError(kind)
	r.svc.logger.Warn(ctx, "recovered record error",
		logger.String("kind", kind),
		logger.Int("slot", rec.Slot),
		logger.Int64("tick", rec.Tick),
		logger.String("lifecycle", rec.Lifecycle.String()),
	)
}
