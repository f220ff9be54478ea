package logger_test

import (
	"context"
	"testing"

	"github.com/replaymetrics/pivot/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given an initialized global logger", t, func() {
		So(logger.Init(), ShouldBeNil)

		Convey("When fetching the global logger", func() {
			l := logger.Get()
			So(l, ShouldNotBeNil)

			Convey("Then logging at every level should not panic", func() {
				ctx := context.Background()
				So(func() {
					l.Debug(ctx, "debug", logger.Int("n", 1))
					l.Info(ctx, "info", logger.String("s", "x"))
					l.Warn(ctx, "warn", logger.Float64("f", 1.5))
					l.Error(ctx, "error", logger.Bool("b", true))
				}, ShouldNotPanic)
			})

			Convey("Then a named logger should be distinct and usable", func() {
				named := l.Named("registry")
				So(named, ShouldNotBeNil)
				So(func() {
					named.Info(context.Background(), "named", logger.Int64("tick", 42))
				}, ShouldNotPanic)
			})
		})

		Convey("When setting levels by string", func() {
			So(logger.SetLevelString("debug"), ShouldBeNil)
			So(logger.SetLevelString("WARN"), ShouldBeNil)
			So(logger.SetLevelString(""), ShouldBeNil)

			Convey("Then an unknown level should error", func() {
				So(logger.SetLevelString("loud"), ShouldNotBeNil)
			})
		})
	})
}
