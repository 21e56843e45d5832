// 包 metrics：流水线运行指标，统一注册与暴露；仅做计数与耗时观测，不承载业务逻辑
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PointsTestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_points_tested_total",
		Help: "Total number of photon points tested against polygons",
	})
	PointsMaskedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_points_masked_total",
		Help: "Total number of photon points marked inside the grounding zone",
	})
	PolygonsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gzmask_polygons",
		Help: "Number of polygons in the loaded grounding zone set",
	})
	PolygonRepairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_polygon_repairs_total",
		Help: "Total invalid polygons repaired by zero-distance buffering",
	})
	PolygonsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_polygons_skipped_total",
		Help: "Total polygons skipped by the coarse bounding-box pretest",
	})
	BeamsReducedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_beams_reduced_total",
		Help: "Total beams whose masks completed the collective reduction",
	})
	ReduceDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gzmask_reduce_duration_ms",
		Help:    "Per-beam evaluate+reduce duration in milliseconds",
		Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000},
	})
	OutputsWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_outputs_written_total",
		Help: "Total output mask granules written",
	})
	OutputsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gzmask_outputs_skipped_total",
		Help: "Total runs skipped because no point fell in the grounding zone",
	})
)

func init() {
	prometheus.MustRegister(
		PointsTestedTotal,
		PointsMaskedTotal,
		PolygonsTotal,
		PolygonRepairsTotal,
		PolygonsSkippedTotal,
		BeamsReducedTotal,
		ReduceDurationMs,
		OutputsWrittenTotal,
		OutputsSkippedTotal,
	)
}

// Serve：在指定地址暴露 /metrics
// 背景：批处理进程生命周期短，默认不开启；由 METRICS_ADDR 显式打开，供长任务观测
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
