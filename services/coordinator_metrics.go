package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coordinatorMetrics struct {
	mergedTotal       *prometheus.CounterVec
	duplicateMerges   prometheus.Counter
	droppedRecords    prometheus.Counter
	resyncsTotal      prometheus.Counter
	heartbeatFailures prometheus.Counter
	nativeAlerts      prometheus.Counter
	inlineAlerts      prometheus.Counter
}

var (
	coordMetricsInstance *coordinatorMetrics
	coordMetricsOnce     sync.Once
	coordDefaultRegistry = prometheus.DefaultRegisterer
)

func newCoordinatorMetrics() *coordinatorMetrics {
	coordMetricsOnce.Do(func() {
		coordMetricsInstance = &coordinatorMetrics{
			mergedTotal: promauto.With(coordDefaultRegistry).NewCounterVec(prometheus.CounterOpts{
				Name: "notify_merged_notifications_total",
				Help: "Total notifications merged into the store by origin",
			}, []string{"origin"}),
			duplicateMerges: promauto.With(coordDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "notify_duplicate_merges_total",
				Help: "Total merges that updated an existing record instead of inserting",
			}),
			droppedRecords: promauto.With(coordDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "notify_dropped_records_total",
				Help: "Total records rejected during merge",
			}),
			resyncsTotal: promauto.With(coordDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "notify_resyncs_total",
				Help: "Total completed resync passes",
			}),
			heartbeatFailures: promauto.With(coordDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "notify_heartbeat_failures_total",
				Help: "Total heartbeat posts that failed",
			}),
			nativeAlerts: promauto.With(coordDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "notify_native_alerts_total",
				Help: "Total native alerts dispatched for high priority notifications",
			}),
			inlineAlerts: promauto.With(coordDefaultRegistry).NewCounter(prometheus.CounterOpts{
				Name: "notify_inline_alerts_total",
				Help: "Total inline alert events published",
			}),
		}
	})
	return coordMetricsInstance
}

// resetCoordinatorMetricsForTesting resets the metrics singleton for test
// isolation. This should only be called from tests.
func resetCoordinatorMetricsForTesting() {
	coordDefaultRegistry = prometheus.NewRegistry()
	coordMetricsInstance = nil
	coordMetricsOnce = sync.Once{}
}
