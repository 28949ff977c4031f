package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "morphology_operations_total",
		Help: "The total number of morphology operations",
	}, []string{"op", "backend", "status"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "morphology_operation_duration_ms",
		Help:    "Duration of a morphology operation in milliseconds, including transfers",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 0.1ms to ~3s
	}, []string{"op", "backend"})

	// Device memory accounting, refreshed after every operation
	DeviceBytesAllocated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "morphology_device_bytes_allocated",
		Help: "Bytes held by live device buffers",
	}, []string{"backend"})

	DeviceActiveBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "morphology_device_active_buffers",
		Help: "Number of live device buffers",
	}, []string{"backend"})
)

// Operation status labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ObserveOperation records one finished operation.
func ObserveOperation(op, backend string, durationMs float64, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(op, backend, status).Inc()
	OperationDuration.WithLabelValues(op, backend).Observe(durationMs)
}

// SetDeviceMemory publishes the backend's current buffer accounting.
func SetDeviceMemory(backend string, activeBytes, activeBuffers int64) {
	DeviceBytesAllocated.WithLabelValues(backend).Set(float64(activeBytes))
	DeviceActiveBuffers.WithLabelValues(backend).Set(float64(activeBuffers))
}
