// Package derive computes per-tick signals from finalized entity series:
// signed angular deltas on a circular domain, speed and acceleration by
// finite difference, and visibility edge events. Every computation looks
// back exactly one tick, so derivation holds O(1) state per entity.
package derive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// MotionRow is the derived motion state of one entity at one tick. Rows
// exist from the second tick of a series onward; individual signals carry
// a presence flag because any input sample may be unknown.
type MotionRow struct {
	Handle registry.Handle
	Tick   int64

	YawDelta    float64
	HasYawDelta bool

	PitchDelta    float64
	HasPitchDelta bool

	Speed    float64
	HasSpeed bool

	Accel    float64
	HasAccel bool
}

// VisibilityRow marks one visibility transition. Emitted only on edges,
// at the tick the new state was first observed.
type VisibilityRow struct {
	Handle  registry.Handle
	Tick    int64
	Visible bool
}

// Result holds every derived row of one entity series.
type Result struct {
	Handle     registry.Handle
	Class      string
	Motion     []MotionRow
	Visibility []VisibilityRow
}

// Deriver computes enabled features over finalized series. Construction
// validates the feature set against the declared schemas; a feature
// naming a field of an incompatible kind is a configuration error.
type Deriver struct {
	features FeatureSet

	positionField   string
	yawField        string
	pitchField      string
	visibilityField string

	log logger.Logger
}

// Option applies a configuration option to the Deriver.
type Option func(*Deriver)

// WithPositionField overrides the field used for speed and acceleration.
func WithPositionField(name string) Option {
	return func(d *Deriver) { d.positionField = name }
}

// WithYawField overrides the horizontal orientation field.
func WithYawField(name string) Option {
	return func(d *Deriver) { d.yawField = name }
}

// WithPitchField overrides the vertical orientation field.
func WithPitchField(name string) Option {
	return func(d *Deriver) { d.pitchField = name }
}

// WithVisibilityField overrides the field watched for visibility edges.
func WithVisibilityField(name string) Option {
	return func(d *Deriver) { d.visibilityField = name }
}

// WithLogger sets a custom logger for the deriver.
func WithLogger(l logger.Logger) Option {
	return func(d *Deriver) {
		if l != nil {
			d.log = l
		}
	}
}

// New builds a deriver for the enabled features, validating them against
// every class in the schema set up front. A class that simply lacks a
// feature's field skips that feature; a class declaring the field with an
// unusable kind fails construction.
func New(schemas *schema.Set, features FeatureSet, opts ...Option) (*Deriver, error) {
	d := &Deriver{
		features:        features,
		positionField:   schema.FieldPosition,
		yawField:        schema.FieldYaw,
		pitchField:      schema.FieldPitch,
		visibilityField: schema.FieldVisibility,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logger.Get().Named("derive")
	}
	if err := d.validate(schemas); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Deriver) validate(schemas *schema.Set) error {
	check := func(c *schema.Class, field string, want model.Kind, feature Feature) error {
		f, ok := c.Field(field)
		if !ok {
			return nil
		}
		if f.Kind != want {
			return fmt.Errorf("%w: feature %s needs %s field %q, class %q declares %s",
				schema.ErrUnsupportedFieldType, feature, want, field, c.Name, f.Kind)
		}
		return nil
	}
	for _, c := range schemas.Classes() {
		if d.features.Has(FeatureSpeed) || d.features.Has(FeatureAcceleration) {
			if err := check(c, d.positionField, model.KindVector, FeatureSpeed); err != nil {
				return err
			}
		}
		if d.features.Has(FeatureAngleDelta) {
			if err := check(c, d.yawField, model.KindAngle, FeatureAngleDelta); err != nil {
				return err
			}
			if err := check(c, d.pitchField, model.KindAngle, FeatureAngleDelta); err != nil {
				return err
			}
		}
		if d.features.Has(FeatureVisibilityEdges) {
			if err := check(c, d.visibilityField, model.KindBool, FeatureVisibilityEdges); err != nil {
				return err
			}
		}
	}
	return nil
}

// AngleDelta returns the signed minimal difference cur-prev on a circular
// 360-degree domain, mapped to (-180, 180]. Naive subtraction at the wrap
// boundary would report a near-full-circle jump for a tiny turn.
func AngleDelta(prev, cur float64) float64 {
	d := math.Mod(cur-prev, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return d
}

// Speed returns the distance covered between two positions over one tick.
func Speed(prev, cur model.Vec3) float64 {
	return cur.Sub(prev).Len()
}

// Derive computes all enabled features over one finalized series. The
// result is complete for the series; nothing is retained between calls.
func (d *Deriver) Derive(ctx context.Context, s *series.EntitySeries) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDeriveLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if s.Len() == 0 {
		metrics.RecordDeriveError()
		return nil, fmt.Errorf("empty series for handle %d", s.Handle)
	}

	res := &Result{Handle: s.Handle, Class: s.Class}
	motion := d.features.Has(FeatureAngleDelta) ||
		d.features.Has(FeatureSpeed) ||
		d.features.Has(FeatureAcceleration)

	prevSpeed := 0.0
	prevSpeedKnown := false
	visKnown := false
	visible := false

	for i, snap := range s.Snapshots {
		if d.features.Has(FeatureVisibilityEdges) {
			if v, ok := snap.Fields[d.visibilityField]; ok && v.Known {
				if !visKnown || v.Flag != visible {
					// The first known sample emits an edge only when the
					// entity is visible; unseen is the assumed start state.
					if visKnown || v.Flag {
						res.Visibility = append(res.Visibility, VisibilityRow{
							Handle:  s.Handle,
							Tick:    snap.Tick,
							Visible: v.Flag,
						})
					}
					visible = v.Flag
					visKnown = true
				}
			}
		}

		if !motion || i == 0 {
			continue
		}
		prev := s.Snapshots[i-1]
		row := MotionRow{Handle: s.Handle, Tick: snap.Tick}

		if d.features.Has(FeatureAngleDelta) {
			if p, c, ok := knownPair(prev, snap, d.yawField); ok {
				row.YawDelta = AngleDelta(p.Num, c.Num)
				row.HasYawDelta = true
			}
			if p, c, ok := knownPair(prev, snap, d.pitchField); ok {
				row.PitchDelta = AngleDelta(p.Num, c.Num)
				row.HasPitchDelta = true
			}
		}

		if d.features.Has(FeatureSpeed) || d.features.Has(FeatureAcceleration) {
			if p, c, ok := knownPair(prev, snap, d.positionField); ok {
				speed := Speed(p.Vec, c.Vec)
				if d.features.Has(FeatureSpeed) {
					row.Speed = speed
					row.HasSpeed = true
				}
				if d.features.Has(FeatureAcceleration) && prevSpeedKnown {
					row.Accel = speed - prevSpeed
					row.HasAccel = true
				}
				prevSpeed = speed
				prevSpeedKnown = true
			} else {
				prevSpeedKnown = false
			}
		}

		res.Motion = append(res.Motion, row)
	}

	metrics.RecordDerivedRows(len(res.Motion) + len(res.Visibility))
	d.log.Debug(ctx, "series derived",
		logger.Int("handle", int(s.Handle)),
		logger.String("class", s.Class),
		logger.Int("motionRows", len(res.Motion)),
		logger.Int("visibilityRows", len(res.Visibility)),
	)
	return res, nil
}

// knownPair fetches a field known in both snapshots.
func knownPair(prev, cur series.Snapshot, field string) (model.Value, model.Value, bool) {
	p, pok := prev.Fields[field]
	c, cok := cur.Fields[field]
	if !pok || !cok || !p.Known || !c.Known {
		return model.Value{}, model.Value{}, false
	}
	return p, c, true
}
