package metrics

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for operation counters
const (
	ResultOK          = "ok"
	ResultInvalid     = "invalid_argument"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// Metrics records facade operations, handle codec traffic and registry size.
// All methods are nil-safe: calls on a nil *Metrics are no-ops.
type Metrics struct {
	// opsTotal counts facade operations by operation and synchronous result
	opsTotal *prometheus.CounterVec

	// opDuration observes time spent inside the guarded section
	opDuration *prometheus.HistogramVec

	// handlesTotal counts handle encode/decode attempts
	handlesTotal *prometheus.CounterVec

	// deploymentsActive tracks the deployments known to the local registry
	deploymentsActive prometheus.Gauge
}

// New creates metrics and registers them with reg. If reg is nil the
// collectors are created but not registered.
//
// Collectors already registered (a kernel restarted in the same process) are
// reused; see RegisterGatewayReaders for the per-grid gauge.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corral",
			Subsystem: "services",
			Name:      "operations_total",
			Help:      "Total number of service facade operations",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "corral",
			Subsystem: "services",
			Name:      "operation_duration_seconds",
			Help:      "Time spent holding the lifecycle gateway per operation",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"op"}),
		handlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corral",
			Subsystem: "services",
			Name:      "handles_total",
			Help:      "Total number of facade handles encoded or decoded",
		}, []string{"direction", "result"}),
		deploymentsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corral",
			Subsystem: "registry",
			Name:      "deployments_active",
			Help:      "Number of deployments known to the local registry",
		}),
	}

	if reg != nil {
		m.opsTotal = registerOrReuse(reg, m.opsTotal).(*prometheus.CounterVec)
		m.opDuration = registerOrReuse(reg, m.opDuration).(*prometheus.HistogramVec)
		m.handlesTotal = registerOrReuse(reg, m.handlesTotal).(*prometheus.CounterVec)
		m.deploymentsActive = registerOrReuse(reg, m.deploymentsActive).(prometheus.Gauge)
	}

	return m
}

// RecordOp counts one facade operation. A zero duration skips the histogram
// (the operation never entered the guarded section).
func (m *Metrics) RecordOp(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(op, result).Inc()
	if d > 0 {
		m.opDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}

// RecordHandle counts one handle encode ("marshal") or decode ("unmarshal")
func (m *Metrics) RecordHandle(direction string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.handlesTotal.WithLabelValues(direction, result).Inc()
}

// SetDeployments sets the active deployment gauge
func (m *Metrics) SetDeployments(n int) {
	if m == nil {
		return
	}
	m.deploymentsActive.Set(float64(n))
}

// gatewayReaders is the reader source behind one grid's gauge. A kernel
// restarted under the same grid name swaps in its own source.
type gatewayReaders struct {
	fn atomic.Pointer[func() float64]
}

func (g *gatewayReaders) value() float64 {
	if fn := g.fn.Load(); fn != nil {
		return (*fn)()
	}
	return 0
}

type gatewayKey struct {
	reg  prometheus.Registerer
	grid string
}

var (
	gatewayMu      sync.Mutex
	gatewaySources = make(map[gatewayKey]*gatewayReaders)
)

// RegisterGatewayReaders exports the active reader count of a grid's gateway.
// Registering the same grid again on reg replaces the reader source.
func RegisterGatewayReaders(reg prometheus.Registerer, grid string, readers func() float64) {
	if reg == nil {
		return
	}

	gatewayMu.Lock()
	defer gatewayMu.Unlock()

	key := gatewayKey{reg: reg, grid: grid}
	if src, ok := gatewaySources[key]; ok {
		src.fn.Store(&readers)
		return
	}

	src := &gatewayReaders{}
	src.fn.Store(&readers)
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "corral",
		Subsystem:   "gateway",
		Name:        "active_readers",
		Help:        "Operations currently holding the lifecycle gateway",
		ConstLabels: prometheus.Labels{"grid": grid},
	}, src.value)
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
	gatewaySources[key] = src
}

// registerOrReuse registers c, returning the existing collector when an
// identical one is already registered.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
