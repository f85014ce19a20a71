// Package metrics provides Prometheus collectors for the broker client.
// It tracks publishes, transport-unavailable retries, reconnects, deliveries
// and RPC outcomes. A nil *Collector is valid and records nothing, so clients
// built without metrics pay no cost.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "rabbit"

	// RPCResultOK labels a request answered within its budget.
	RPCResultOK = "ok"
	// RPCResultTimeout labels a request whose budget ran out.
	RPCResultTimeout = "timeout"
)

// Collector groups the client's metrics. Create one per Client with New.
type Collector struct {
	published       *prometheus.CounterVec
	retries         *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	rpcRequests     *prometheus.CounterVec
	reconnects      prometheus.Counter
	cleanupFailures prometheus.Counter
	connected       prometheus.Gauge
	rpcDuration     prometheus.Histogram
}

// New registers the collectors on reg. constLabels distinguish clients that
// share a registry, e.g. {"exchange": "orders"}.
func New(reg prometheus.Registerer, constLabels prometheus.Labels) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "published_total",
				Help:        "Total number of messages accepted by the transport",
				ConstLabels: constLabels,
			},
			[]string{"queue"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "retries_total",
				Help:        "Total number of operation retries caused by an unavailable transport",
				ConstLabels: constLabels,
			},
			[]string{"op"},
		),
		deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "deliveries_total",
				Help:        "Total number of deliveries handed to consumer handlers",
				ConstLabels: constLabels,
			},
			[]string{"queue"},
		),
		rpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "rpc_requests_total",
				Help:        "Total number of requests that awaited a response, by outcome",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "reconnects_total",
				Help:        "Total number of successful re-establishments after the first connection",
				ConstLabels: constLabels,
			},
		),
		cleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "cleanup_failures_total",
				Help:        "Total number of failed best-effort reply queue deletions",
				ConstLabels: constLabels,
			},
		),
		connected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "connected",
				Help:        "1 while a transport is established, 0 otherwise",
				ConstLabels: constLabels,
			},
		),
		rpcDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "rpc_duration_seconds",
				Help:        "Time from request publish to observed response in seconds",
				ConstLabels: constLabels,
				Buckets:     []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
	}
}

// Published counts a message accepted for queue.
func (c *Collector) Published(queue string) {
	if c == nil {
		return
	}

	c.published.WithLabelValues(queue).Inc()
}

// Retry counts one backoff caused by an unavailable transport.
func (c *Collector) Retry(op string) {
	if c == nil {
		return
	}

	c.retries.WithLabelValues(op).Inc()
}

// Delivered counts a delivery handed to a handler of queue.
func (c *Collector) Delivered(queue string) {
	if c == nil {
		return
	}

	c.deliveries.WithLabelValues(queue).Inc()
}

// Connected records an established transport; reconnect is true for every
// generation after the first.
func (c *Collector) Connected(reconnect bool) {
	if c == nil {
		return
	}

	c.connected.Set(1)

	if reconnect {
		c.reconnects.Inc()
	}
}

// Disconnected records the loss of the transport.
func (c *Collector) Disconnected() {
	if c == nil {
		return
	}

	c.connected.Set(0)
}

// RPC records the outcome of a request that awaited a response.
func (c *Collector) RPC(result string, elapsed time.Duration) {
	if c == nil {
		return
	}

	c.rpcRequests.WithLabelValues(result).Inc()

	if result == RPCResultOK {
		c.rpcDuration.Observe(elapsed.Seconds())
	}
}

// CleanupFailed counts a failed best-effort reply queue deletion.
func (c *Collector) CleanupFailed() {
	if c == nil {
		return
	}

	c.cleanupFailures.Inc()
}
