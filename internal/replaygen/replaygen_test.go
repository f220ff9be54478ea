package replaygen_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/replaymetrics/pivot/internal/adapters/source/jsonl"
	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/replaygen"
	"github.com/replaymetrics/pivot/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestGeneratorDeterminism(t *testing.T) {
	Convey("Given two generators with the same seed", t, func() {
		ctx := context.Background()
		cfg := replaygen.Config{Seed: 7, Ticks: 50, Clients: 4}

		var a, b bytes.Buffer
		na, err := replaygen.New(cfg).Write(ctx, &a)
		So(err, ShouldBeNil)
		nb, err := replaygen.New(cfg).Write(ctx, &b)
		So(err, ShouldBeNil)

		Convey("Then they produce identical output", func() {
			So(na, ShouldEqual, nb)
			So(a.String(), ShouldEqual, b.String())
		})

		Convey("And a different seed diverges", func() {
			var c bytes.Buffer
			_, err := replaygen.New(replaygen.Config{Seed: 8, Ticks: 50, Clients: 4}).Write(ctx, &c)
			So(err, ShouldBeNil)
			So(c.String(), ShouldNotEqual, a.String())
		})
	})
}

func TestGeneratorOutputParses(t *testing.T) {
	Convey("Given a generated session", t, func() {
		ctx := context.Background()
		cfg := replaygen.Config{Seed: 42, Ticks: 120, Clients: 6, Bots: 1}

		var buf bytes.Buffer
		written, err := replaygen.New(cfg).Write(ctx, &buf)
		So(err, ShouldBeNil)
		So(written, ShouldBeGreaterThan, 0)

		Convey("Then every line decodes through the record source", func() {
			src := jsonl.New(&buf, schema.Default(), jsonl.WithSkipBots(false))

			records := 0
			spawns := 0
			destroys := 0
			lastTick := int64(0)
			for {
				rec, err := src.Next(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				So(err, ShouldBeNil)
				So(rec.Tick, ShouldBeGreaterThanOrEqualTo, lastTick)
				lastTick = rec.Tick
				records++
				switch rec.Lifecycle {
				case model.LifecycleSpawn:
					spawns++
					if rec.Class == schema.ClassProjectile {
						So(rec.OwnerSlot, ShouldNotEqual, model.NoOwner)
					}
				case model.LifecycleDestroy:
					destroys++
					So(rec.ExpiryReason, ShouldNotBeEmpty)
				}
			}

			So(records, ShouldEqual, written)
			So(spawns, ShouldBeGreaterThanOrEqualTo, cfg.Clients)
			So(destroys, ShouldBeGreaterThan, 0)
		})
	})
}
