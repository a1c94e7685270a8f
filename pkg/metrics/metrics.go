package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultNamespace  = "tftp"
	subsystemTransfer = "transfer"
)

// Collector records per-transfer outcomes on its own registry. A nil
// *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	active       prometheus.Gauge
	transfers    *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	retransmits  prometheus.Counter
	rejected     *prometheus.CounterVec
	unknownPeers prometheus.Counter
	duration     *prometheus.HistogramVec
	blockSize    prometheus.Histogram
}

// Outcome summarizes one finished transfer.
type Outcome struct {
	Direction   string
	Err         error
	Bytes       int64
	Retransmits int
	BlockSize   int
	Duration    time.Duration
}

func NewCollector(namespace string) *Collector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemTransfer,
			Name:      "active",
			Help:      "Transfers currently in progress.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransfer,
			Name:      "total",
			Help:      "Finished transfers by direction and result.",
		}, []string{"direction", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransfer,
			Name:      "bytes_total",
			Help:      "Payload bytes moved by direction.",
		}, []string{"direction"}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransfer,
			Name:      "retransmissions_total",
			Help:      "Packets sent again after a timeout or a duplicate.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Requests answered with an ERROR before any data moved.",
		}, []string{"code"}),
		unknownPeers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_transfer_id_total",
			Help:      "Datagrams on the listening port that were not requests.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemTransfer,
			Name:      "duration_seconds",
			Help:      "Wall time of finished transfers.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"direction"}),
		blockSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemTransfer,
			Name:      "block_size_bytes",
			Help:      "Negotiated block size of finished transfers.",
			Buckets:   []float64{512, 1024, 1428, 4096, 8192, 16384, 32768, 65464},
		}),
	}

	c.registry.MustRegister(c.active, c.transfers, c.bytes, c.retransmits,
		c.rejected, c.unknownPeers, c.duration, c.blockSize)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TransferStarted() {
	if c == nil {
		return
	}

	c.active.Inc()
}

func (c *Collector) TransferFinished(o Outcome) {
	if c == nil {
		return
	}

	c.active.Dec()

	result := "ok"
	if o.Err != nil {
		result = "failed"
	}

	c.transfers.WithLabelValues(o.Direction, result).Inc()
	c.bytes.WithLabelValues(o.Direction).Add(float64(o.Bytes))
	c.retransmits.Add(float64(o.Retransmits))
	c.duration.WithLabelValues(o.Direction).Observe(o.Duration.Seconds())

	if o.BlockSize > 0 {
		c.blockSize.Observe(float64(o.BlockSize))
	}
}

func (c *Collector) RequestRejected(code string) {
	if c == nil {
		return
	}

	c.rejected.WithLabelValues(code).Inc()
}

func (c *Collector) UnknownTransferID() {
	if c == nil {
		return
	}

	c.unknownPeers.Inc()
}
