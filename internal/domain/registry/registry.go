// Package registry owns entity identity and lifecycle state.
//
// Raw slot ids are reusable: after a destroy, the upstream source is free
// to hand the same slot to a brand-new entity. The registry therefore
// never treats a slot as an identity. It keeps a monotonically growing
// arena of entity handles, addressed by opaque index, and a separate
// slot-to-handle binding that is explicitly rebound on spawn and cleared
// on destroy.
package registry

import (
	"context"
	"fmt"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Handle is the stable logical identity of one entity for its lifetime.
type Handle int32

// NoHandle marks the absence of a handle reference.
const NoHandle Handle = -1

// Entity is one arena entry. FirstTick/LastTick bound the entity's
// observed range; both are inclusive. Once Sealed is set the entity accepts
// no further mutation.
type Entity struct {
	Handle    Handle
	Slot      int
	Class     string
	FirstTick int64
	LastTick  int64
	Sealed    bool

	// Implicit is set when the entity was synthesized by unknown-slot
	// recovery rather than an explicit spawn.
	Implicit bool
}

// Registry resolves raw per-tick records to stable entity handles.
type Registry struct {
	arena  []*Entity
	bySlot map[int]Handle
	open   int
	log    logger.Logger
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLogger sets a custom logger for the registry.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New constructs an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		bySlot: make(map[int]Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("registry")
	}
	return r
}

// Resolve maps a raw (slot, tick, lifecycle) observation to an entity.
//
// Recovered conditions return both a usable entity and a sentinel error so
// the caller can count them: an update or destroy for a never-bound slot
// returns the implicitly spawned entity wrapped with ErrUnknownSlot. A
// record resolving to a sealed handle returns (nil, ErrSealedEntity); the
// caller drops the record.
func (r *Registry) Resolve(ctx context.Context, slot int, tick int64, lc model.Lifecycle, class string) (*Entity, error) {
	switch lc {
	case model.LifecycleSpawn:
		return r.spawn(ctx, slot, tick, class, false), nil

	case model.LifecycleDestroy:
		h, bound := r.bySlot[slot]
		if !bound {
			// Destroy for a slot we never saw spawn. Lifecycle reporting
			// from upstream is not guaranteed complete for ambient
			// objects; synthesize a one-tick entity and seal it.
			ent := r.spawn(ctx, slot, tick, class, true)
			r.seal(ent, tick)
			return ent, fmt.Errorf("%w: destroy for slot %d at tick %d", ErrUnknownSlot, slot, tick)
		}
		ent := r.arena[h]
		if ent.Sealed {
			if tick <= ent.LastTick {
				return nil, fmt.Errorf("%w: destroy for handle %d (slot %d) at tick %d", ErrSealedEntity, h, slot, tick)
			}
			// The slot moved on past the sealed lifetime without an
			// explicit spawn; synthesize the missing entity.
			next := r.spawn(ctx, slot, tick, class, true)
			r.seal(next, tick)
			return next, fmt.Errorf("%w: destroy for slot %d at tick %d", ErrUnknownSlot, slot, tick)
		}
		r.seal(ent, tick)
		return ent, nil

	default: // update
		h, bound := r.bySlot[slot]
		if !bound {
			ent := r.spawn(ctx, slot, tick, class, true)
			return ent, fmt.Errorf("%w: update for slot %d at tick %d", ErrUnknownSlot, slot, tick)
		}
		ent := r.arena[h]
		if ent.Sealed {
			if tick <= ent.LastTick {
				// Trailing record inside the sealed lifetime; applying it
				// would violate series immutability. Drop.
				return nil, fmt.Errorf("%w: update for handle %d (slot %d) at tick %d", ErrSealedEntity, h, slot, tick)
			}
			next := r.spawn(ctx, slot, tick, class, true)
			return next, fmt.Errorf("%w: update for slot %d at tick %d", ErrUnknownSlot, slot, tick)
		}
		if tick > ent.LastTick {
			ent.LastTick = tick
		}
		return ent, nil
	}
}

// spawn allocates a new arena entry and binds the slot to it. A spawn on a
// still-bound slot means the destroy was lost upstream; the old entity is
// sealed at the previous observed tick and the slot rebound.
func (r *Registry) spawn(ctx context.Context, slot int, tick int64, class string, implicit bool) *Entity {
	if h, bound := r.bySlot[slot]; bound {
		prev := r.arena[h]
		if !prev.Sealed {
			r.log.Warn(ctx, "spawn on bound slot, sealing previous entity",
				logger.Int("slot", slot),
				logger.Int64("tick", tick),
				logger.Int("handle", int(prev.Handle)),
			)
			r.seal(prev, prev.LastTick)
		}
		metrics.RecordSlotReuse()
	}

	ent := &Entity{
		Handle:    Handle(len(r.arena)),
		Slot:      slot,
		Class:     class,
		FirstTick: tick,
		LastTick:  tick,
		Implicit:  implicit,
	}
	r.arena = append(r.arena, ent)
	r.bySlot[slot] = ent.Handle
	r.open++
	metrics.UpdateLiveEntities(r.open)

	r.log.Debug(ctx, "entity spawned",
		logger.Int("handle", int(ent.Handle)),
		logger.Int("slot", slot),
		logger.Int64("tick", tick),
		logger.String("class", class),
		logger.Bool("implicit", implicit),
	)
	return ent
}

// seal closes an entity at the given tick. The slot binding is kept,
// pointing at the sealed entity, so trailing same-tick records can be
// recognized as sealed-mutation drops; the next spawn rebinds it.
func (r *Registry) seal(ent *Entity, tick int64) {
	if ent.Sealed {
		return
	}
	if tick > ent.LastTick {
		ent.LastTick = tick
	}
	ent.Sealed = true
	r.open--
	metrics.RecordEntitySealed()
	metrics.UpdateLiveEntities(r.open)
}

// SealAll seals every open entity at its last observed tick. Called at end
// of stream. Returns the entities sealed by this call.
func (r *Registry) SealAll(ctx context.Context) []*Entity {
	var sealed []*Entity
	for _, ent := range r.arena {
		if !ent.Sealed {
			r.seal(ent, ent.LastTick)
			sealed = append(sealed, ent)
		}
	}
	if len(sealed) > 0 {
		r.log.Info(ctx, "sealed remaining entities at end of stream", logger.Int("count", len(sealed)))
	}
	return sealed
}

// Get returns the arena entry for a handle, or nil for an invalid handle.
func (r *Registry) Get(h Handle) *Entity {
	if h < 0 || int(h) >= len(r.arena) {
		return nil
	}
	return r.arena[h]
}

// Bound returns the handle of the open entity currently bound to a slot,
// or NoHandle. Sealed bindings do not count: a weak reference resolved
// through Bound never points at a finished lifetime.
func (r *Registry) Bound(slot int) Handle {
	h, ok := r.bySlot[slot]
	if !ok || r.arena[h].Sealed {
		return NoHandle
	}
	return h
}

// Len returns the total number of handles ever allocated.
func (r *Registry) Len() int {
	return len(r.arena)
}

// Open returns the number of currently unsealed entities.
func (r *Registry) Open() int {
	return r.open
}

// All returns every arena entry in allocation order.
func (r *Registry) All() []*Entity {
	return r.arena
}
