package grid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("refexgrid.grid")

var (
	// materializeDuration tracks one full materialization pass.
	materializeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "refexgrid_materialize_duration_seconds",
		Help:    "Duration of a grid materialization pass in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	})

	// rowsMaterialized counts rows published, nested rows included.
	rowsMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refexgrid_rows_materialized_total",
		Help: "Total grid rows materialized",
	})

	// annotationCycles counts annotations skipped by the cycle guards.
	annotationCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refexgrid_annotation_cycles_total",
		Help: "Total annotations skipped because they reference their own ancestor chain",
	})

	// decodeErrors counts cells rendered as -ERROR-.
	decodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refexgrid_decode_errors_total",
		Help: "Total cell values that could not be decoded or rendered",
	})

	// scansTotal counts fallback scans by outcome.
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refexgrid_scans_total",
		Help: "Total fallback scans by outcome",
	}, []string{"outcome"})

	// scanComponentsVisited counts components loaded by fallback scans.
	scanComponentsVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refexgrid_scan_components_visited_total",
		Help: "Total components visited by fallback scans",
	})

	// transactionsTotal counts commit and cancel requests by outcome.
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refexgrid_transactions_total",
		Help: "Total commit and cancel requests by operation and outcome",
	}, []string{"operation", "outcome"})
)
