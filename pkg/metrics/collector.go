package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/psantana5/workgate/pkg/gate"
	"github.com/psantana5/workgate/pkg/timed"
	"github.com/shirou/gopsutil/v3/process"
)

const namespace = "workgate"

// Collector records timed invocations, gate state and HTTP traffic on its
// own registry
type Collector struct {
	registry  *prometheus.Registry
	startTime time.Time
	proc      *process.Process

	invocations *prometheus.CounterVec
	elapsed     prometheus.Histogram
	wait        prometheus.Histogram
	work        prometheus.Histogram
	inFlight    prometheus.Gauge
	requests    *prometheus.CounterVec
}

// NewCollector creates a collector exporting the state of g
func NewCollector(g *gate.Gate) *Collector {
	buckets := prometheus.ExponentialBuckets(0.05, 2, 12)

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Timed invocations by outcome",
			},
			[]string{"outcome"},
		),
		elapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "elapsed_seconds",
			Help:      "Time from request start to work completion, gate wait included",
			Buckets:   buckets,
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting for the gate",
			Buckets:   buckets,
		}),
		work: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "work_seconds",
			Help:      "Time spent holding the gate",
			Buckets:   buckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}

	c.registry.MustRegister(
		c.invocations,
		c.elapsed,
		c.wait,
		c.work,
		c.inFlight,
		c.requests,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_waiting",
			Help:      "Callers currently suspended waiting for the gate",
		}, func() float64 { return float64(g.Waiting()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_held",
			Help:      "1 while the gate is held",
		}, func() float64 {
			if g.Held() {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the collector was created",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "CPU used by this process since it started, in percent",
		}, c.cpuPercent),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_resident_memory_bytes",
			Help:      "Resident set size of this process",
		}, c.rssBytes),
	)

	return c
}

// ObserveRun records one finished invocation
func (c *Collector) ObserveRun(m timed.Measurement) {
	c.invocations.WithLabelValues(string(m.Outcome)).Inc()
	c.elapsed.Observe(m.Elapsed.Seconds())
	c.wait.Observe(m.Wait.Seconds())
	if m.Outcome != timed.OutcomeCancelled {
		c.work.Observe(m.Work.Seconds())
	}
}

// Registry returns the registry holding every workgate metric
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Middleware counts requests by route template and tracks requests in flight.
// It must be installed with mux.Router.Use so the route is already matched.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.inFlight.Inc()
		defer c.inFlight.Dec()

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		c.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
	})
}

// ServeHTTP serves the registry in the Prometheus text format
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	families, err := c.registry.Gather()
	if err != nil {
		http.Error(w, fmt.Sprintf("Error gathering metrics: %v", err), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			http.Error(w, fmt.Sprintf("Error encoding metric %s: %v", mf.GetName(), err), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", string(expfmt.FmtText))
	w.Write(buf.Bytes())
}

func (c *Collector) cpuPercent() float64 {
	if c.proc == nil {
		return 0
	}
	pct, err := c.proc.CPUPercent()
	if err != nil {
		return 0
	}
	return pct
}

func (c *Collector) rssBytes() float64 {
	if c.proc == nil {
		return 0
	}
	mem, err := c.proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return float64(mem.RSS)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
