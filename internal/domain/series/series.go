// Package series assembles sparse per-tick field observations into dense
// per-entity time series.
//
// The builder keeps one small carry-forward state per live entity: the
// last known value of every declared field. Ticks the entity reported
// nothing for are materialized from that state according to each field's
// gap-fill policy, so a finalized series covers every tick in
// [FirstTick, LastTick] with no holes. Carry state is local to the entity
// and discarded at finalize; last-known values never leak across entities.
package series

import (
	"context"
	"fmt"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Snapshot is the complete field state of one entity at one tick.
type Snapshot struct {
	Tick   int64
	Fields map[string]model.Value
}

// EntitySeries is the frozen dense table of one entity. Snapshots hold one
// entry per tick in [FirstTick, LastTick], in order.
type EntitySeries struct {
	Handle    registry.Handle
	Slot      int
	Class     string
	FirstTick int64
	LastTick  int64
	Snapshots []Snapshot
}

// Len returns the number of ticks the series covers.
func (s *EntitySeries) Len() int {
	return len(s.Snapshots)
}

// At returns the snapshot for an absolute tick.
func (s *EntitySeries) At(tick int64) (Snapshot, bool) {
	if tick < s.FirstTick || tick > s.LastTick {
		return Snapshot{}, false
	}
	return s.Snapshots[tick-s.FirstTick], true
}

// carryState is the per-live-entity build state.
type carryState struct {
	ent       *registry.Entity
	class     *schema.Class
	last      map[string]model.Value
	snapshots []Snapshot
	lastTick  int64
}

// Builder accumulates observations for all currently live entities.
type Builder struct {
	schemas *schema.Set
	state   map[registry.Handle]*carryState
	log     logger.Logger
}

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithLogger sets a custom logger for the builder.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBuilder constructs a builder over a validated schema set.
func NewBuilder(schemas *schema.Set, opts ...Option) *Builder {
	b := &Builder{
		schemas: schemas,
		state:   make(map[registry.Handle]*carryState),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get().Named("series")
	}
	return b
}

// Append records one tick's observed field values for an entity. Fields
// absent from the record carry forward; undeclared fields are dropped.
// Multiple records for the same (entity, tick) merge into one snapshot.
func (b *Builder) Append(ctx context.Context, ent *registry.Entity, tick int64, fields map[string]model.Value) error {
	st, ok := b.state[ent.Handle]
	if !ok {
		class, found := b.schemas.Class(ent.Class)
		if !found {
			return fmt.Errorf("%w: %q", ErrUnknownClass, ent.Class)
		}
		st = &carryState{
			ent:      ent,
			class:    class,
			last:     make(map[string]model.Value, len(class.Fields)),
			lastTick: tick - 1,
		}
		for _, f := range class.Fields {
			st.last[f.Name] = model.Unknown(f.Kind)
		}
		b.state[ent.Handle] = st
	}

	if tick < st.lastTick {
		return fmt.Errorf("%w: tick %d after tick %d for handle %d", ErrTickRegression, tick, st.lastTick, ent.Handle)
	}

	// Materialize any skipped ticks, then the new snapshot, from carry
	// state. tick == lastTick merges into the current snapshot instead.
	if tick > st.lastTick {
		for t := st.lastTick + 1; t <= tick; t++ {
			st.snapshots = append(st.snapshots, st.fill(t))
		}
		st.lastTick = tick
	}

	cur := &st.snapshots[len(st.snapshots)-1]
	for name, v := range fields {
		decl, declared := st.class.Field(name)
		if !declared {
			// Unknown upstream property; tolerated and dropped.
			b.log.Debug(ctx, "dropping undeclared field",
				logger.String("class", st.class.Name),
				logger.String("field", name),
			)
			continue
		}
		if v.Kind != decl.Kind {
			b.log.Warn(ctx, "dropping field with mismatched kind",
				logger.String("class", st.class.Name),
				logger.String("field", name),
				logger.String("declared", decl.Kind.String()),
				logger.String("observed", v.Kind.String()),
			)
			continue
		}
		cur.Fields[name] = v
		st.last[name] = v
	}
	return nil
}

// fill builds the snapshot for a tick with no explicit record, honoring
// each field's gap-fill policy.
func (st *carryState) fill(tick int64) Snapshot {
	fields := make(map[string]model.Value, len(st.class.Fields))
	for _, f := range st.class.Fields {
		switch f.Fill {
		case schema.FillUnknown:
			fields[f.Name] = model.Unknown(f.Kind)
		default: // hold-last
			fields[f.Name] = st.last[f.Name]
		}
	}
	return Snapshot{Tick: tick, Fields: fields}
}

// Finalize freezes and returns an entity's dense series, releasing its
// carry state. The entity must be sealed; lastTick extends to the seal
// tick so destroy ticks without field payloads still get a row.
func (b *Builder) Finalize(ctx context.Context, ent *registry.Entity) (*EntitySeries, error) {
	st, ok := b.state[ent.Handle]
	if !ok {
		// Entity observed only through lifecycle records with no field
		// payloads at all; synthesize its carry state so the series still
		// covers the lifetime.
		class, found := b.schemas.Class(ent.Class)
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownClass, ent.Class)
		}
		st = &carryState{
			ent:      ent,
			class:    class,
			last:     make(map[string]model.Value, len(class.Fields)),
			lastTick: ent.FirstTick - 1,
		}
		for _, f := range class.Fields {
			st.last[f.Name] = model.Unknown(f.Kind)
		}
	}

	for t := st.lastTick + 1; t <= ent.LastTick; t++ {
		st.snapshots = append(st.snapshots, st.fill(t))
	}
	delete(b.state, ent.Handle)

	out := &EntitySeries{
		Handle:    ent.Handle,
		Slot:      ent.Slot,
		Class:     ent.Class,
		FirstTick: ent.FirstTick,
		LastTick:  ent.LastTick,
		Snapshots: st.snapshots,
	}
	metrics.RecordSeriesFinalized(len(out.Snapshots))
	b.log.Debug(ctx, "series finalized",
		logger.Int("handle", int(ent.Handle)),
		logger.Int64("firstTick", out.FirstTick),
		logger.Int64("lastTick", out.LastTick),
		logger.Int("snapshots", out.Len()),
	)
	return out, nil
}

// Live returns the number of entities with open carry state.
func (b *Builder) Live() int {
	return len(b.state)
}
