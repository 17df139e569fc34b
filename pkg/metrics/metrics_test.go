package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics should be registered under the namespace", func() {
				manager.joinAttempts.Inc()

				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := make(map[string]bool)
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_join_attempts_total"], ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording enrollment outcomes", func() {
			before := testutil.ToFloat64(globalManager.joinOutcomes.WithLabelValues("race_lost"))
			attempts := testutil.ToFloat64(globalManager.joinAttempts)

			RecordJoinAttempt()
			RecordJoinOutcome("race_lost")
			RecordLeaveOutcome("success")

			Convey("Then the counters should move", func() {
				So(testutil.ToFloat64(globalManager.joinAttempts), ShouldEqual, attempts+1)
				So(testutil.ToFloat64(globalManager.joinOutcomes.WithLabelValues("race_lost")), ShouldEqual, before+1)
			})
		})

		Convey("When recording lifecycle and catalogue metrics", func() {
			RecordLifecycleAction("cancel", "success")
			RecordMatchCreated()
			UpdateMatchesTotal(42)

			Convey("Then the gauge should hold the last value", func() {
				So(testutil.ToFloat64(globalManager.matchesTotal), ShouldEqual, 42)
			})
		})

		Convey("When recording store, discovery and HTTP metrics", func() {
			RecordStoreUpdateLatency("memory", "applied", 0.3)
			RecordStoreCASRetry("sqlite")
			RecordStoreQueryLatency("memory", 1.2)
			RecordDiscoveryLatency("geo", 2.5)
			RecordHTTPRequest("/matches/{id}/join", "POST", "200")
			RecordHTTPRequestDuration("/matches/{id}/join", "POST", "200", 3.0)
			RecordErrorByEndpoint("/matches/{id}/join", "POST", "conflict")
			RecordErrorByComponent("store", "transient")

			Convey("Then everything should be gathered from the custom registry", func() {
				So(testutil.ToFloat64(globalManager.storeCASRetries.WithLabelValues("sqlite")), ShouldBeGreaterThanOrEqualTo, 1)

				families, err := GetRegistry().Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When recording system metrics", func() {
			UpdateSystemMemoryUsage(1024)
			UpdateSystemGoroutineCount(7)
			RecordSystemGCPauseTime(0.2)

			Convey("Then the gauges should reflect the values", func() {
				So(testutil.ToFloat64(globalManager.systemMemoryUsage), ShouldEqual, 1024)
				So(testutil.ToFloat64(globalManager.systemGoroutineCount), ShouldEqual, 7)
			})
		})
	})
}
