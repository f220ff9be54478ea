package stream_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/stream"
	. "github.com/smartystreets/goconvey/convey"
)

// sliceSource feeds a fixed record slice as a lazy sequence.
type sliceSource struct {
	recs []*model.RawRecord
	pos  int
}

func (s *sliceSource) Next(_ context.Context) (*model.RawRecord, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	r := s.recs[s.pos]
	s.pos++
	return r, nil
}

func rec(tick int64, slot int, lc model.Lifecycle) *model.RawRecord {
	return &model.RawRecord{Tick: tick, Slot: slot, Lifecycle: lc, OwnerSlot: model.NoOwner}
}

func TestNextTick(t *testing.T) {
	Convey("Given an ordered record stream spanning three ticks", t, func() {
		src := &sliceSource{recs: []*model.RawRecord{
			rec(1, 5, model.LifecycleSpawn),
			rec(1, 6, model.LifecycleSpawn),
			rec(2, 5, model.LifecycleUpdate),
			rec(4, 6, model.LifecycleUpdate),
		}}
		ing := stream.New(src)
		ctx := context.Background()

		Convey("When pulling tick batches", func() {
			t1, b1, err := ing.NextTick(ctx)
			So(err, ShouldBeNil)
			So(t1, ShouldEqual, 1)
			So(len(b1), ShouldEqual, 2)

			t2, b2, err := ing.NextTick(ctx)
			So(err, ShouldBeNil)
			So(t2, ShouldEqual, 2)
			So(len(b2), ShouldEqual, 1)

			Convey("Then a tick with zero records is simply absent from the batches", func() {
				t3, b3, err := ing.NextTick(ctx)
				So(err, ShouldBeNil)
				So(t3, ShouldEqual, 4)
				So(len(b3), ShouldEqual, 1)
			})

			Convey("And the stream should end with io.EOF", func() {
				_, _, _ = ing.NextTick(ctx)
				_, _, err := ing.NextTick(ctx)
				So(err, ShouldEqual, io.EOF)
			})
		})
	})
}

func TestOutOfOrderTick(t *testing.T) {
	Convey("Given a stream whose ticks go backwards", t, func() {
		src := &sliceSource{recs: []*model.RawRecord{
			rec(5, 1, model.LifecycleSpawn),
			rec(7, 1, model.LifecycleUpdate),
			rec(6, 1, model.LifecycleUpdate),
		}}
		ing := stream.New(src)
		ctx := context.Background()

		Convey("When the violation is reached", func() {
			_, _, err := ing.NextTick(ctx)
			So(err, ShouldBeNil)

			_, _, err = ing.NextTick(ctx)

			Convey("Then the run should abort with ErrOutOfOrderTick", func() {
				So(errors.Is(err, stream.ErrOutOfOrderTick), ShouldBeTrue)
			})
		})
	})
}

func TestSameTickDestroySpawnOrder(t *testing.T) {
	Convey("Given a coalesced destroy-then-spawn arriving spawn-first", t, func() {
		src := &sliceSource{recs: []*model.RawRecord{
			rec(10, 3, model.LifecycleUpdate),
			rec(10, 5, model.LifecycleSpawn),
			rec(10, 4, model.LifecycleUpdate),
			rec(10, 5, model.LifecycleDestroy),
		}}
		ing := stream.New(src)

		Convey("When the tick batch is pulled", func() {
			_, batch, err := ing.NextTick(context.Background())
			So(err, ShouldBeNil)
			So(len(batch), ShouldEqual, 4)

			Convey("Then slot 5's destroy should precede its spawn", func() {
				var destroyIdx, spawnIdx int
				for i, r := range batch {
					if r.Slot != 5 {
						continue
					}
					if r.Lifecycle == model.LifecycleDestroy {
						destroyIdx = i
					} else {
						spawnIdx = i
					}
				}
				So(destroyIdx, ShouldBeLessThan, spawnIdx)
			})

			Convey("Then unrelated slots should keep arrival order", func() {
				So(batch[0].Slot, ShouldEqual, 3)
				So(batch[len(batch)-1].Slot, ShouldNotEqual, 3)
			})
		})
	})

	Convey("Given a destroy already ahead of its spawn", t, func() {
		src := &sliceSource{recs: []*model.RawRecord{
			rec(10, 5, model.LifecycleDestroy),
			rec(10, 5, model.LifecycleSpawn),
		}}
		ing := stream.New(src)

		Convey("Then the batch should be unchanged", func() {
			_, batch, err := ing.NextTick(context.Background())
			So(err, ShouldBeNil)
			So(batch[0].Lifecycle, ShouldEqual, model.LifecycleDestroy)
			So(batch[1].Lifecycle, ShouldEqual, model.LifecycleSpawn)
		})
	})
}
