package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/rigctl/internal/robot"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	handshakePackets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "session",
			Name:      "handshake_packets_total",
			Help:      "Handshake packets sent to the board.",
		},
	)
	commandFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "session",
			Name:      "commands_total",
			Help:      "Command frames sent to the board.",
		},
	)
	sessionPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rigctl",
			Subsystem: "session",
			Name:      "phase",
			Help:      "Session phase: 0 uninitialized, 1 handshaking, 2 active, 3 faulted.",
		},
	)
	sessionFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "session",
			Name:      "faults_total",
			Help:      "Faults observed by kind.",
		},
		[]string{"kind"},
	)
	loopCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Control cycles executed.",
		},
	)
	loopFaultedCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "loop",
			Name:      "faulted_cycles_total",
			Help:      "Control cycles that ran the safety controller.",
		},
	)
	loopOverruns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "loop",
			Name:      "overruns_total",
			Help:      "Control cycles that took longer than the period.",
		},
	)
	loopCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rigctl",
			Subsystem: "loop",
			Name:      "cycle_duration_seconds",
			Help:      "Control cycle work duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(25e-6, 2, 10),
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rigctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"rig", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rigctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rig", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			handshakePackets,
			commandFrames,
			sessionPhase,
			sessionFaults,
			loopCycles,
			loopFaultedCycles,
			loopOverruns,
			loopCycleDuration,
			httpRequests,
			httpDuration,
		)
	})
}

func SetPhase(p robot.Phase) {
	sessionPhase.Set(float64(p))
}

func RecordFault(kind string) {
	sessionFaults.WithLabelValues(kind).Inc()
}

// RecordCycle is called once per control cycle and does not allocate.
func RecordCycle(work time.Duration, faulted bool) {
	loopCycles.Inc()
	if faulted {
		loopFaultedCycles.Inc()
	}
	loopCycleDuration.Observe(work.Seconds())
}

func RecordOverrun() {
	loopOverruns.Inc()
}

func RecordHTTPRequest(rig, method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(rig, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(rig, method, path, statusLabel).Observe(duration.Seconds())
}
