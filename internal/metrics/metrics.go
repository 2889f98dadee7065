package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register. The helper
// functions below no-op until Register succeeds, so library users who never
// opt in pay nothing.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops (graceful or kill).",
		}, []string{"service"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts performed by supervision.",
		}, []string{"service"},
	)
	serviceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Number of failed starts plus circuit-breaker trips.",
		}, []string{"service"},
	)
	cleanupCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "cleanup_corrections_total",
			Help:      "Number of stale records and PID files corrected by cleanup.",
		},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "up",
			Help:      "1 while the service is recorded as running with a live PID.",
		}, []string{"service"},
	)
	supervisedServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "supervised_services",
			Help:      "Number of services currently under supervision.",
		},
	)
	serviceCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the service process.",
		}, []string{"service"},
	)
	serviceMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "memory_mb",
			Help:      "Resident memory of the service process in MB.",
		}, []string{"service"},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// AlreadyRegisteredError is tolerated so embedding applications can share
// the default registry.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStops, serviceRestarts, serviceFailures,
		cleanupCorrections, serviceUp, supervisedServices,
		serviceCPUPercent, serviceMemoryMB,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer; serve mode mounts it at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service).Inc()
	}
}

func IncFailure(service string) {
	if regOK.Load() {
		serviceFailures.WithLabelValues(service).Inc()
	}
}

func AddCleanup(n int) {
	if regOK.Load() && n > 0 {
		cleanupCorrections.Add(float64(n))
	}
}

func SetUp(service string, up bool) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	serviceUp.WithLabelValues(service).Set(v)
}

func SetSupervised(n int) {
	if regOK.Load() {
		supervisedServices.Set(float64(n))
	}
}

func setResources(service string, cpu, memMB float64) {
	if regOK.Load() {
		serviceCPUPercent.WithLabelValues(service).Set(cpu)
		serviceMemoryMB.WithLabelValues(service).Set(memMB)
	}
}

func dropResources(service string) {
	if regOK.Load() {
		serviceCPUPercent.DeleteLabelValues(service)
		serviceMemoryMB.DeleteLabelValues(service)
	}
}
