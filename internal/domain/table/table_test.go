package table_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/internal/domain/transient"
	"github.com/replaymetrics/pivot/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func drain(t *table.Table) []table.Row {
	var rows []table.Row
	it := t.Rows()
	for {
		row, ok := it.Next()
		if !ok {
			return rows
		}
		rows = append(rows, row)
	}
}

func clientSeries(t *testing.T, handle registry.Handle, first, last int64) *series.EntitySeries {
	t.Helper()
	ctx := context.Background()
	b := series.NewBuilder(schema.Default())
	ent := &registry.Entity{
		Handle:    handle,
		Slot:      1,
		Class:     schema.ClassClient,
		FirstTick: first,
		LastTick:  last,
		Sealed:    true,
	}
	if err := b.Append(ctx, ent, first, map[string]model.Value{
		schema.FieldHealth: model.Int(100),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	out, err := b.Finalize(ctx, ent)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return out
}

func TestSeriesTable(t *testing.T) {
	Convey("Given a series table over two client lifetimes", t, func() {
		set := schema.Default()
		class, _ := set.Class(schema.ClassClient)
		list := []*series.EntitySeries{
			clientSeries(t, 0, 1, 3),
			clientSeries(t, 1, 2, 4),
		}
		tab := table.Series(class, list)

		Convey("Columns are the keys plus the declared fields, in order", func() {
			So(tab.Columns[0].Name, ShouldEqual, table.ColHandle)
			So(tab.Columns[1].Name, ShouldEqual, table.ColTick)
			So(len(tab.Columns), ShouldEqual, 2+len(class.Fields))
			So(tab.Columns[2].Name, ShouldEqual, class.Fields[0].Name)
		})

		Convey("Rows cover every tick of every series", func() {
			rows := drain(tab)
			So(len(rows), ShouldEqual, 6)
			So(rows[0].Cells[0].AsInt(), ShouldEqual, 0)
			So(rows[0].Cells[1].AsInt(), ShouldEqual, 1)
			So(rows[3].Cells[0].AsInt(), ShouldEqual, 1)
			So(rows[3].Cells[1].AsInt(), ShouldEqual, 2)
		})

		Convey("Every row has one cell per column", func() {
			for _, row := range drain(tab) {
				So(len(row.Cells), ShouldEqual, len(tab.Columns))
			}
		})

		Convey("Iteration restarts from the top", func() {
			So(len(drain(tab)), ShouldEqual, len(drain(tab)))
		})
	})
}

func TestMotionAndVisibilityTables(t *testing.T) {
	Convey("Given derived results", t, func() {
		results := []*derive.Result{{
			Handle: 7,
			Class:  schema.ClassClient,
			Motion: []derive.MotionRow{
				{Handle: 7, Tick: 2, Speed: 5, HasSpeed: true},
				{Handle: 7, Tick: 3, Speed: 6, HasSpeed: true, Accel: 1, HasAccel: true},
			},
			Visibility: []derive.VisibilityRow{
				{Handle: 7, Tick: 3, Visible: true},
			},
		}}

		Convey("The motion table exports absent signals as unknown", func() {
			rows := drain(table.Motion(schema.ClassClient, results))
			So(len(rows), ShouldEqual, 2)
			// yaw_delta was never derived
			So(rows[0].Cells[2].Known, ShouldBeFalse)
			So(rows[0].Cells[4].Num, ShouldAlmostEqual, 5)
			So(rows[0].Cells[5].Known, ShouldBeFalse)
			So(rows[1].Cells[5].Num, ShouldAlmostEqual, 1)
		})

		Convey("The visibility table holds only edges", func() {
			rows := drain(table.Visibility(schema.ClassClient, results))
			So(len(rows), ShouldEqual, 1)
			So(rows[0].Cells[1].AsInt(), ShouldEqual, 3)
			So(rows[0].Cells[2].Flag, ShouldBeTrue)
		})
	})
}

func TestSummaryTable(t *testing.T) {
	Convey("Given transient summaries of two classes", t, func() {
		sums := []*transient.Summary{
			{
				Handle:         4,
				Class:          schema.ClassProjectile,
				SpawnTick:      2,
				DestroyTick:    7,
				Owner:          0,
				OwnerSlot:      1,
				Expiry:         transient.ExpiryImpact,
				TerminalPos:    model.Vec3{X: 40, Y: 8, Z: 2},
				HasTerminalPos: true,
			},
			{
				Handle:      5,
				Class:       "sticky",
				SpawnTick:   3,
				DestroyTick: 9,
				Owner:       registry.NoHandle,
				OwnerSlot:   model.NoOwner,
				Expiry:      transient.ExpiryTimeout,
			},
		}

		Convey("Each class table holds only its own rows", func() {
			rows := drain(table.Summaries(schema.ClassProjectile, sums))
			So(len(rows), ShouldEqual, 1)
			So(rows[0].Cells[0].AsInt(), ShouldEqual, 4)
			So(rows[0].Cells[3].AsInt(), ShouldEqual, 0)
			So(rows[0].Cells[5].Str, ShouldEqual, "impact")
			So(rows[0].Cells[6].Vec.X, ShouldAlmostEqual, 40)
		})

		Convey("Missing owner and position export as unknown", func() {
			rows := drain(table.Summaries("sticky", sums))
			So(len(rows), ShouldEqual, 1)
			So(rows[0].Cells[3].Known, ShouldBeFalse)
			So(rows[0].Cells[4].Known, ShouldBeFalse)
			So(rows[0].Cells[6].Known, ShouldBeFalse)
		})
	})
}
