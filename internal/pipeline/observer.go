package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"firestige.xyz/ingress/internal/core/ingress"
	"firestige.xyz/ingress/internal/metrics"
)

// Observers fans a drop out to several observers in order.
type Observers []ingress.DropObserver

// Observe implements ingress.DropObserver.
func (o Observers) Observe(d *ingress.Drop) {
	for _, obs := range o {
		obs.Observe(d)
	}
}

// MetricsObserver counts drops per worker and in Prometheus.
type MetricsObserver struct {
	m        *Metrics
	counters map[dropKey]prometheus.Counter
}

type dropKey struct {
	layer  ingress.Layer
	reason ingress.Reason
}

// NewMetricsObserver creates an observer feeding m. It must be used by one
// worker only.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{m: m, counters: make(map[dropKey]prometheus.Counter)}
}

// Observe implements ingress.DropObserver.
func (o *MetricsObserver) Observe(d *ingress.Drop) {
	o.m.countDrop(d.Reason)

	key := dropKey{d.Layer, d.Reason}
	c, ok := o.counters[key]
	if !ok {
		c = metrics.DropsTotal.WithLabelValues(d.Layer.String(), d.Reason.String())
		o.counters[key] = c
	}
	c.Inc()
}

// LoggingObserver logs failure drops at debug level. The limiter is shared
// between workers so a flood of bad frames cannot swamp the log.
type LoggingObserver struct {
	logger     *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewLoggingObserver creates an observer allowing limit events per second
// with the given burst.
func NewLoggingObserver(logger *slog.Logger, limit rate.Limit, burst int) *LoggingObserver {
	if burst <= 0 {
		burst = 1
	}
	return &LoggingObserver{
		logger:  logger,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Observe implements ingress.DropObserver.
func (o *LoggingObserver) Observe(d *ingress.Drop) {
	if !d.Reason.IsFailure() || !o.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if !o.limiter.Allow() {
		o.suppressed.Add(1)
		return
	}
	o.logger.Debug("frame dropped",
		"layer", d.Layer.String(),
		"reason", d.Reason.String(),
		"value", d.Value,
		"src_mac", d.Addresses.Source.String(),
		"dst_mac", d.Addresses.Destination.String(),
		"header_len", len(d.Header),
		"suppressed", o.suppressed.Swap(0),
	)
}

// Suppressed returns the drops not logged since the last logged one.
func (o *LoggingObserver) Suppressed() uint64 {
	return o.suppressed.Load()
}
