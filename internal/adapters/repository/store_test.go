package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/replaymetrics/pivot/internal/adapters/repository"
	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/internal/domain/transient"
	"github.com/replaymetrics/pivot/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func storedSeries(h registry.Handle, class string) *series.EntitySeries {
	return &series.EntitySeries{
		Handle:    h,
		Slot:      int(h),
		Class:     class,
		FirstTick: 1,
		LastTick:  1,
		Snapshots: []series.Snapshot{{Tick: 1}},
	}
}

func TestMemoryStore(t *testing.T) {
	Convey("Given an empty memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()

		Convey("Lookups on unknown handles fail", func() {
			_, err := store.Series(ctx, 9)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Stored series round-trip", func() {
			So(store.PutSeries(ctx, storedSeries(1, schema.ClassClient)), ShouldBeNil)
			got, err := store.Series(ctx, 1)
			So(err, ShouldBeNil)
			So(got.Handle, ShouldEqual, 1)
			So(store.Count(ctx), ShouldEqual, 1)
		})

		Convey("A handle can only be finalized once", func() {
			So(store.PutSeries(ctx, storedSeries(1, schema.ClassClient)), ShouldBeNil)
			err := store.PutSeries(ctx, storedSeries(1, schema.ClassClient))
			So(errors.Is(err, repository.ErrDuplicateHandle), ShouldBeTrue)
		})

		Convey("Concurrent writers do not race", func() {
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(h registry.Handle) {
					defer wg.Done()
					_ = store.PutSeries(ctx, storedSeries(h, schema.ClassClient))
					_ = store.PutDerived(ctx, &derive.Result{Handle: h, Class: schema.ClassClient})
				}(registry.Handle(i))
			}
			wg.Wait()
			So(store.Count(ctx), ShouldEqual, 32)
		})
	})
}

func TestMemoryStoreTables(t *testing.T) {
	Convey("Given a store holding both classes", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		set := schema.Default()

		So(store.PutSeries(ctx, storedSeries(2, schema.ClassClient)), ShouldBeNil)
		So(store.PutSeries(ctx, storedSeries(1, schema.ClassClient)), ShouldBeNil)
		So(store.PutSeries(ctx, storedSeries(3, schema.ClassProjectile)), ShouldBeNil)
		So(store.PutDerived(ctx, &derive.Result{
			Handle: 1,
			Class:  schema.ClassClient,
			Motion: []derive.MotionRow{{Handle: 1, Tick: 2, Speed: 1, HasSpeed: true}},
		}), ShouldBeNil)
		So(store.PutSummary(ctx, &transient.Summary{
			Handle:      3,
			Class:       schema.ClassProjectile,
			SpawnTick:   2,
			DestroyTick: 7,
			Expiry:      transient.ExpiryImpact,
		}), ShouldBeNil)

		tables := store.Tables(ctx, set)
		names := make([]string, 0, len(tables))
		for _, tab := range tables {
			names = append(names, tab.Name)
		}

		Convey("Each class contributes its table set", func() {
			So(names, ShouldContain, "client_series")
			So(names, ShouldContain, "client_motion")
			So(names, ShouldContain, "client_visibility")
			So(names, ShouldContain, "projectile_series")
			So(names, ShouldContain, "projectile_summary")
		})

		Convey("Series tables run in handle order", func() {
			for _, tab := range tables {
				if tab.Name != "client_series" {
					continue
				}
				it := tab.Rows()
				first, ok := it.Next()
				So(ok, ShouldBeTrue)
				So(first.Cells[0].AsInt(), ShouldEqual, 1)
			}
		})

		Convey("A class with no data contributes nothing", func() {
			set2 := schema.Default()
			set2.EnsureTransient("sticky")
			empty := repository.NewMemoryStore()
			So(len(empty.Tables(ctx, set2)), ShouldEqual, 0)
		})
	})
}
