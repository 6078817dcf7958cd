package keyfs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for filesystem operations.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// Operations counts operations by name and result ("ok" or the errno-like
	// failure class).
	Operations *prometheus.CounterVec

	// BytesRead counts plaintext bytes returned by Read.
	BytesRead prometheus.Counter

	// BytesWritten counts plaintext bytes accepted by Write.
	BytesWritten prometheus.Counter

	// Paths tracks the number of entries in the path table, root included.
	Paths prometheus.Gauge

	// KeyedPaths tracks the number of registered keys.
	KeyedPaths prometheus.Gauge
}

// NewMetrics creates and registers filesystem metrics with the given
// Prometheus registerer. If reg is nil, metrics are created but not
// registered (useful for testing).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyfs",
			Name:      "operations_total",
			Help:      "Total number of filesystem operations",
		}, []string{"op", "result"}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyfs",
			Name:      "bytes_read_total",
			Help:      "Plaintext bytes returned by read",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyfs",
			Name:      "bytes_written_total",
			Help:      "Plaintext bytes accepted by write",
		}),
		Paths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyfs",
			Name:      "paths",
			Help:      "Current number of paths, root included",
		}),
		KeyedPaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keyfs",
			Name:      "keyed_paths",
			Help:      "Current number of registered keys",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.Operations,
			m.BytesRead,
			m.BytesWritten,
			m.Paths,
			m.KeyedPaths,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}
	}

	return m
}

func (m *Metrics) recordOp(op string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) recordRead(n int) {
	if m == nil {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) recordWrite(n int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(n))
}

func (m *Metrics) setCounts(paths, keys int) {
	if m == nil {
		return
	}
	m.Paths.Set(float64(paths))
	m.KeyedPaths.Set(float64(keys))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "not_found"
	case IsAccessDenied(err):
		return "access_denied"
	case IsValidationError(err):
		return "invalid"
	default:
		return "error"
	}
}
