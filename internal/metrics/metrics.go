package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// Metrics exposes control loop state and HTTP traffic. It implements
// thermostat.CycleObserver.
type Metrics struct {
	reg *prometheus.Registry

	setpoint    *prometheus.GaugeVec
	temperature *prometheus.GaugeVec
	output      *prometheus.GaugeVec
	pidTerm     *prometheus.GaugeVec
	lastCycle   *prometheus.GaugeVec
	cycles      *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermopid_setpoint_celsius",
			Help: "Target temperature used by the last control cycle.",
		}, []string{"device_id"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermopid_temperature_celsius",
			Help: "Process temperature used by the last control cycle.",
		}, []string{"device_id"}),
		output: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermopid_output",
			Help: "Quantized value sent to the actuator by the last control cycle.",
		}, []string{"device_id"}),
		pidTerm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermopid_pid_term",
			Help: "PID contributions of the last control cycle.",
		}, []string{"device_id", "term"}),
		lastCycle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermopid_last_cycle_timestamp_seconds",
			Help: "Unix time of the last control cycle.",
		}, []string{"device_id"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermopid_cycles_total",
			Help: "Control cycles by result (computed, error, manual).",
		}, []string{"device_id", "result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		m.setpoint,
		m.temperature,
		m.output,
		m.pidTerm,
		m.lastCycle,
		m.cycles,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveCycle(rec thermostat.CycleRecord) {
	if m == nil {
		return
	}
	id := rec.DeviceID
	m.setpoint.WithLabelValues(id).Set(rec.Setpoint)
	m.temperature.WithLabelValues(id).Set(rec.Temperature)
	m.output.WithLabelValues(id).Set(rec.Output)
	m.pidTerm.WithLabelValues(id, "p").Set(rec.Terms.P)
	m.pidTerm.WithLabelValues(id, "i").Set(rec.Terms.I)
	m.pidTerm.WithLabelValues(id, "d").Set(rec.Terms.D)
	m.lastCycle.WithLabelValues(id).Set(float64(rec.Start.Unix()))

	result := "computed"
	switch {
	case rec.ComputeError != "":
		result = "error"
	case !rec.Computed:
		result = "manual"
	}
	m.cycles.WithLabelValues(id, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
