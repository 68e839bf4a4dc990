package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "topk")
				So(manager.subsystem, ShouldEqual, "leaderboard")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})

				manager.eventsAdmitted.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_namespace_test_subsystem_events_admitted_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When empty options are passed", func() {
			manager := NewManager(
				WithNamespace(""),
				WithHistogramBuckets(nil),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "topk")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording admission outcomes", func() {
			before := testutil.ToFloat64(globalManager.eventsRejected.WithLabelValues("auth"))
			RecordEventRejected("auth")
			RecordEventRejected("auth")

			Convey("Then the labelled counter should move", func() {
				So(testutil.ToFloat64(globalManager.eventsRejected.WithLabelValues("auth")), ShouldEqual, before+2)
			})
		})

		Convey("When the stream acknowledges a duplicate", func() {
			before := testutil.ToFloat64(globalManager.publishDuplicates)
			RecordPublishDuplicate()

			Convey("Then the duplicate counter should move", func() {
				So(testutil.ToFloat64(globalManager.publishDuplicates), ShouldEqual, before+1)
			})
		})

		Convey("When setting gauges", func() {
			UpdateSnapshotVersion(42)
			UpdateUsersTracked(7)
			UpdateLedgerSize(3)

			Convey("Then the gauges should hold the latest value", func() {
				So(testutil.ToFloat64(globalManager.snapshotVersion), ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.usersTracked), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.ledgerSize), ShouldEqual, 3)
			})
		})

		Convey("When recording every helper", func() {
			Convey("Then none of them should panic", func() {
				So(func() {
					RecordEventAdmitted()
					RecordEventDuplicate()
					RecordStoreApplyLatency(1.5)
					RecordStoreError()
					RecordStoreReplay()
					RecordCacheVersionBump()
					RecordCacheShortCircuit()
					RecordCacheError()
					RecordCacheUpdateLatency(0.2)
					RecordDiffSize(3)
					RecordPublish("update")
					RecordPublishError()
					RecordPublishRetry()
					RecordPublishDropped()
					RecordPublishLatency(2)
					RecordReconcileRun()
					RecordReconcileDrift()
					RecordReconcileError()
					RecordReconcileDuration(10)
					UpdateQueueSize(1)
					UpdateQueueCapacity(10)
					UpdateQueueUtilization(0.1)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					UpdateWorkerActiveCount(1)
					RecordWorkerProcessingLatency(1)
					RecordWorkerError()
					RecordHTTPRequest("events", "POST", "200")
					RecordHTTPRequestDuration("events", "POST", "200", 3)
					RecordErrorByComponent("store", "unavailable")
					RecordErrorByType("server_error", "high")
					RecordErrorByEndpoint("events", "POST", "server_error")
					RecordErrorLatency("http", "server_error", 4)
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(10)
					RecordSystemGCPauseTime(0.3)
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			Convey("Then it should be the custom registry", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
