package derive_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/pkg/logger"
)

func init() {
	_ = logger.Init()
}

// buildSeries finalizes a client series from sparse per-tick field maps.
func buildSeries(t *testing.T, handle registry.Handle, first int64, ticks []map[string]model.Value) *series.EntitySeries {
	t.Helper()
	ctx := context.Background()
	b := series.NewBuilder(schema.Default())
	ent := &registry.Entity{
		Handle:    handle,
		Slot:      1,
		Class:     schema.ClassClient,
		FirstTick: first,
		LastTick:  first + int64(len(ticks)) - 1,
		Sealed:    true,
	}
	for i, fields := range ticks {
		if err := b.Append(ctx, ent, first+int64(i), fields); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	out, err := b.Finalize(ctx, ent)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return out
}

func TestAngleDelta(t *testing.T) {
	Convey("AngleDelta takes the short way around the circle", t, func() {
		So(derive.AngleDelta(179, -179), ShouldAlmostEqual, 2)
		So(derive.AngleDelta(-179, 179), ShouldAlmostEqual, -2)
		So(derive.AngleDelta(10, 30), ShouldAlmostEqual, 20)
		So(derive.AngleDelta(30, 10), ShouldAlmostEqual, -20)
		So(derive.AngleDelta(0, 180), ShouldAlmostEqual, 180)
		So(derive.AngleDelta(90, 90), ShouldAlmostEqual, 0)
	})
}

func TestDeriveMotion(t *testing.T) {
	Convey("Given a client walking and turning", t, func() {
		ctx := context.Background()
		d, err := derive.New(schema.Default(), derive.AllFeatures())
		So(err, ShouldBeNil)

		s := buildSeries(t, 1, 10, []map[string]model.Value{
			{
				schema.FieldPosition: model.Vector(model.Vec3{X: 0, Y: 0, Z: 0}),
				schema.FieldYaw:      model.Angle(179),
			},
			{
				schema.FieldPosition: model.Vector(model.Vec3{X: 3, Y: 4, Z: 0}),
				schema.FieldYaw:      model.Angle(-179),
			},
			{
				schema.FieldPosition: model.Vector(model.Vec3{X: 3, Y: 14, Z: 0}),
				schema.FieldYaw:      model.Angle(-170),
			},
		})

		res, err := d.Derive(ctx, s)
		So(err, ShouldBeNil)

		Convey("The first tick produces no motion row", func() {
			So(len(res.Motion), ShouldEqual, 2)
			So(res.Motion[0].Tick, ShouldEqual, 11)
		})

		Convey("Angular deltas wrap instead of jumping", func() {
			So(res.Motion[0].HasYawDelta, ShouldBeTrue)
			So(res.Motion[0].YawDelta, ShouldAlmostEqual, 2)
			So(res.Motion[1].YawDelta, ShouldAlmostEqual, 9)
		})

		Convey("Speed is the per-tick displacement", func() {
			So(res.Motion[0].HasSpeed, ShouldBeTrue)
			So(res.Motion[0].Speed, ShouldAlmostEqual, 5)
			So(res.Motion[1].Speed, ShouldAlmostEqual, 10)
		})

		Convey("Acceleration needs a previous speed", func() {
			So(res.Motion[0].HasAccel, ShouldBeFalse)
			So(res.Motion[1].HasAccel, ShouldBeTrue)
			So(res.Motion[1].Accel, ShouldAlmostEqual, 5)
		})

		Convey("Pitch was never observed, so its delta is absent", func() {
			So(res.Motion[0].HasPitchDelta, ShouldBeFalse)
		})
	})
}

func TestDeriveVisibilityEdges(t *testing.T) {
	Convey("Given the visibility sequence F F T T F over ticks 1-5", t, func() {
		ctx := context.Background()
		d, err := derive.New(schema.Default(), derive.AllFeatures())
		So(err, ShouldBeNil)

		vis := func(v bool) map[string]model.Value {
			return map[string]model.Value{schema.FieldVisibility: model.Bool(v)}
		}
		s := buildSeries(t, 2, 1, []map[string]model.Value{
			vis(false), vis(false), vis(true), vis(true), vis(false),
		})

		res, err := d.Derive(ctx, s)
		So(err, ShouldBeNil)

		Convey("Exactly the two transitions are emitted", func() {
			So(len(res.Visibility), ShouldEqual, 2)
			So(res.Visibility[0].Tick, ShouldEqual, 3)
			So(res.Visibility[0].Visible, ShouldBeTrue)
			So(res.Visibility[1].Tick, ShouldEqual, 5)
			So(res.Visibility[1].Visible, ShouldBeFalse)
		})
	})
}

func TestDeriveUnknownGaps(t *testing.T) {
	Convey("Given a series whose position is unknown mid-run", t, func() {
		ctx := context.Background()
		set := schema.Default()
		// Force the position to revert to unknown on silent ticks.
		So(set.ApplyOverrides(map[string]string{schema.FieldPosition: "unknown"}), ShouldBeNil)
		d, err := derive.New(set, derive.AllFeatures())
		So(err, ShouldBeNil)

		s := buildSeries(t, 3, 1, []map[string]model.Value{
			{schema.FieldPosition: model.Vector(model.Vec3{X: 0, Y: 0, Z: 0})},
			{schema.FieldPosition: model.Vector(model.Vec3{X: 1, Y: 0, Z: 0})},
			nil, // position unknown this tick
			{schema.FieldPosition: model.Vector(model.Vec3{X: 5, Y: 0, Z: 0})},
			{schema.FieldPosition: model.Vector(model.Vec3{X: 6, Y: 0, Z: 0})},
		})

		res, err := d.Derive(ctx, s)
		So(err, ShouldBeNil)

		bySpeed := map[int64]derive.MotionRow{}
		for _, row := range res.Motion {
			bySpeed[row.Tick] = row
		}

		Convey("Speed is absent across the unknown tick", func() {
			So(bySpeed[2].HasSpeed, ShouldBeTrue)
			So(bySpeed[3].HasSpeed, ShouldBeFalse)
			So(bySpeed[4].HasSpeed, ShouldBeFalse)
			So(bySpeed[5].HasSpeed, ShouldBeTrue)
		})

		Convey("Acceleration does not bridge the gap", func() {
			So(bySpeed[5].HasAccel, ShouldBeFalse)
		})
	})
}

func TestDeriveFeatureSelection(t *testing.T) {
	Convey("Given only visibility edges enabled", t, func() {
		ctx := context.Background()
		feats, err := derive.ParseFeatures([]string{"visibility_edges"})
		So(err, ShouldBeNil)
		d, err := derive.New(schema.Default(), feats)
		So(err, ShouldBeNil)

		s := buildSeries(t, 4, 1, []map[string]model.Value{
			{
				schema.FieldPosition:   model.Vector(model.Vec3{X: 0, Y: 0, Z: 0}),
				schema.FieldVisibility: model.Bool(false),
			},
			{
				schema.FieldPosition:   model.Vector(model.Vec3{X: 9, Y: 0, Z: 0}),
				schema.FieldVisibility: model.Bool(true),
			},
		})

		res, err := d.Derive(ctx, s)
		So(err, ShouldBeNil)
		So(len(res.Motion), ShouldEqual, 0)
		So(len(res.Visibility), ShouldEqual, 1)
	})

	Convey("Unknown feature names are rejected", t, func() {
		_, err := derive.ParseFeatures([]string{"jerk"})
		So(errors.Is(err, derive.ErrUnknownFeature), ShouldBeTrue)
	})
}

func TestDeriveValidation(t *testing.T) {
	Convey("A class declaring the position as a scalar fails validation", t, func() {
		set := schema.NewSet(schema.NewClass("probe", false, []schema.Field{
			{Name: schema.FieldPosition, Kind: model.KindFloat},
		}))
		_, err := derive.New(set, derive.AllFeatures())
		So(errors.Is(err, schema.ErrUnsupportedFieldType), ShouldBeTrue)
	})

	Convey("A class simply lacking the field passes", t, func() {
		set := schema.NewSet(schema.NewClass("marker", false, []schema.Field{
			{Name: "label", Kind: model.KindInt},
		}))
		_, err := derive.New(set, derive.AllFeatures())
		So(err, ShouldBeNil)
	})
}
