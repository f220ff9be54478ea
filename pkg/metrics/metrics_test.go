package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/replaymetrics/pivot/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a metrics manager on a private registry", t, func() {
		reg := prometheus.NewRegistry()
		m := metrics.NewManager(
			metrics.WithNamespace("pivot_test"),
			metrics.WithSubsystem("pipeline"),
			metrics.WithPrometheusRegistry(reg),
			metrics.WithGatherer(reg),
		)

		Convey("Then the manager should be created", func() {
			So(m, ShouldNotBeNil)
		})

		Convey("Then the registry should gather the registered metrics", func() {
			families, err := reg.Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		So(metrics.GetManager(), ShouldNotBeNil)

		Convey("When recording pipeline activity", func() {
			So(func() {
				metrics.RecordIngested()
				metrics.RecordDropped()
				metrics.RecordTickObserved()
				metrics.RecordRecoveredError("unknown_slot")
				metrics.UpdateLiveEntities(3)
				metrics.RecordEntitySealed()
				metrics.RecordSlotReuse()
				metrics.RecordSeriesFinalized(10)
				metrics.RecordDeriveLatency(1.5)
				metrics.RecordDerivedRows(9)
				metrics.RecordDeriveError()
				metrics.UpdateQueueSize(1)
				metrics.UpdateQueueCapacity(100)
				metrics.UpdateQueueUtilization(0.01)
				metrics.RecordQueueEnqueue()
				metrics.RecordQueueDequeue()
				metrics.RecordQueueEnqueueError()
				metrics.UpdateWorkerCount(4)
				metrics.RecordWorkerProcessingLatency(2.0)
				metrics.RecordTableExported(42)
			}, ShouldNotPanic)
		})

		Convey("When serving the metrics handler", func() {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			metrics.Handler().ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.Len(), ShouldBeGreaterThan, 0)
		})
	})
}
