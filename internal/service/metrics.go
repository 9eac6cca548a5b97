package service

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/telemetry"
)

var (
	tracer = telemetry.Tracer("github.com/ppiankov/pgokache/internal/service")

	opCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgokache",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Total number of operations, by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pgokache",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations, by operation.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)
	setupStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pgokache",
			Subsystem: "setup",
			Name:      "checks_total",
			Help:      "Setup check results, by status.",
		},
		[]string{"status"},
	)
	snapshotRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pgokache",
			Subsystem: "collector",
			Name:      "snapshot_rows",
			Help:      "Statement rows per stored snapshot.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		},
	)
)

// begin starts the span and timer for an operation. The returned func
// records the outcome from *errp and ends the span.
func begin(ctx context.Context, op, instanceID string) (context.Context, func(errp *error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("pgokache.instance", instanceID)))
	return ctx, func(errp *error) {
		outcome := "ok"
		if err := *errp; err != nil {
			outcome = strings.ToLower(string(apperr.KindOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.Message(err))
		}
		opCounter.WithLabelValues(op, outcome).Inc()
		opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		span.End()
	}
}
