// Package transient tracks short-lived non-client entities (projectiles
// and similar world objects) across their spawn/destroy lifecycle and
// produces one summary row per entity alongside its full series.
package transient

import (
	"context"
	"strings"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/pkg/logger"
)

// ExpiryReason classifies why a transient entity left the world.
type ExpiryReason string

const (
	ExpiryImpact    ExpiryReason = "impact"
	ExpiryTimeout   ExpiryReason = "timeout"
	ExpiryDestroyed ExpiryReason = "destroyed"
	ExpiryUnknown   ExpiryReason = "unknown"
)

// ParseExpiryReason maps a destroy payload string to a reason. Anything
// unrecognized, including the empty payload, maps to unknown.
func ParseExpiryReason(s string) ExpiryReason {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "impact", "hit", "detonate", "detonated":
		return ExpiryImpact
	case "timeout", "expired", "fizzle":
		return ExpiryTimeout
	case "destroyed", "removed", "deleted":
		return ExpiryDestroyed
	default:
		return ExpiryUnknown
	}
}

// Summary is the lifecycle summary of one transient entity.
type Summary struct {
	Handle    registry.Handle
	Class     string
	SpawnTick int64

	// DestroyTick is the entity's last tick; for an entity still live at
	// end-of-stream it is the final stream tick.
	DestroyTick int64

	// Owner is the owning client's handle at spawn time, NoHandle when the
	// spawn carried no owner or the owner slot was unbound. The reference
	// is weak: the owner may be sealed by the time the summary is read.
	Owner     registry.Handle
	OwnerSlot int

	Expiry ExpiryReason

	TerminalPos    model.Vec3
	HasTerminalPos bool
}

// Tracker watches registry lifecycle for a configured set of transient
// classes and assembles summaries as entities are sealed.
type Tracker struct {
	classes map[string]struct{}
	reg     *registry.Registry
	open    map[registry.Handle]*Summary
	done    []*Summary
	log     logger.Logger
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithLogger sets a custom logger for the tracker.
func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// New builds a tracker over the schema set's transient classes, resolving
// owner slots through the given registry.
func New(schemas *schema.Set, reg *registry.Registry, opts ...Option) *Tracker {
	t := &Tracker{
		classes: make(map[string]struct{}),
		reg:     reg,
		open:    make(map[registry.Handle]*Summary),
	}
	for _, name := range schemas.TransientClasses() {
		t.classes[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Get().Named("transient")
	}
	return t
}

// Tracks reports whether a class is under transient tracking.
func (t *Tracker) Tracks(class string) bool {
	_, ok := t.classes[class]
	return ok
}

// OnSpawn opens a summary for a freshly spawned transient entity. A spawn
// without an owner reference is valid; world-triggered effects have none.
func (t *Tracker) OnSpawn(ctx context.Context, ent *registry.Entity, rec *model.RawRecord) {
	if !t.Tracks(ent.Class) {
		return
	}
	sum := &Summary{
		Handle:    ent.Handle,
		Class:     ent.Class,
		SpawnTick: ent.FirstTick,
		Owner:     registry.NoHandle,
		OwnerSlot: model.NoOwner,
		Expiry:    ExpiryUnknown,
	}
	if rec != nil && rec.OwnerSlot != model.NoOwner {
		sum.OwnerSlot = rec.OwnerSlot
		if owner := t.reg.Bound(rec.OwnerSlot); owner != registry.NoHandle {
			sum.Owner = owner
		} else {
			t.log.Debug(ctx, "transient spawn references unbound owner slot",
				logger.Int("slot", ent.Slot),
				logger.Int("ownerSlot", rec.OwnerSlot),
			)
		}
	}
	t.open[ent.Handle] = sum
}

// OnDestroy classifies the expiry reason from the destroy payload. An
// absent payload stays unknown; never an error.
func (t *Tracker) OnDestroy(ctx context.Context, ent *registry.Entity, rec *model.RawRecord) {
	sum, ok := t.open[ent.Handle]
	if !ok {
		return
	}
	if rec != nil && rec.ExpiryReason != "" {
		sum.Expiry = ParseExpiryReason(rec.ExpiryReason)
	}
}

// OnFinalize completes the summary once the entity's series is frozen,
// taking the destroy tick and terminal position from the series. Returns
// the summary, or nil when the entity was not tracked.
func (t *Tracker) OnFinalize(ctx context.Context, s *series.EntitySeries) *Summary {
	sum, ok := t.open[s.Handle]
	if !ok {
		return nil
	}
	delete(t.open, s.Handle)
	sum.DestroyTick = s.LastTick
	if s.Len() > 0 {
		last := s.Snapshots[s.Len()-1]
		if pos, found := last.Fields[schema.FieldPosition]; found && pos.Known {
			sum.TerminalPos = pos.Vec
			sum.HasTerminalPos = true
		}
	}
	t.done = append(t.done, sum)
	return sum
}

// Summaries returns every completed summary in finalize order.
func (t *Tracker) Summaries() []*Summary {
	return t.done
}

// Open returns the number of tracked entities not yet finalized.
func (t *Tracker) Open() int {
	return len(t.open)
}
