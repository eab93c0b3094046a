// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	editsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isoterrain_edits_applied_total",
		Help: "Edit requests fully applied to the sparse container",
	})

	workerTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isoterrain_worker_tasks_total",
		Help: "Tasks executed on the worker pool",
	})

	tilesRecomputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isoterrain_tiles_recomputed_total",
		Help: "Tiles recomputed per pipeline layer",
	}, []string{"layer", "lod"})

	changeListSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "isoterrain_change_list_size",
		Help:    "Entries published per change cycle",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 512},
	}, []string{"layer"})

	surfaceTriangles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "isoterrain_surface_triangles",
		Help: "Regular triangles held by surface tiles",
	}, []string{"lod"})

	visibleTiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "isoterrain_visible_tiles",
		Help: "Surface tiles currently visible to at least one camera",
	}, []string{"lod"})

	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isoterrain_frames_sent_total",
		Help: "Distribution frames sent to receivers",
	}, []string{"type"})
)

func EditApplied() { editsApplied.Inc() }

func WorkerTask() { workerTasks.Inc() }

func TilesRecomputed(layer string, lod, n int) {
	tilesRecomputed.WithLabelValues(layer, strconv.Itoa(lod)).Add(float64(n))
}

func ChangeList(layer string, n int) {
	changeListSize.WithLabelValues(layer).Observe(float64(n))
}

func SurfaceTriangles(lod int, delta int) {
	surfaceTriangles.WithLabelValues(strconv.Itoa(lod)).Add(float64(delta))
}

func VisibleTiles(lod int, delta int) {
	visibleTiles.WithLabelValues(strconv.Itoa(lod)).Add(float64(delta))
}

func FrameSent(kind string) { framesSent.WithLabelValues(kind).Inc() }

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
