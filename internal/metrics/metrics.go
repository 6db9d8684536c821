// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_webhooks_total",
		Help: "Webhook deliveries by outcome",
	}, []string{"outcome"})

	ImagesStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_images_stored_total",
		Help: "Images decoded and written to disk",
	})
	ImageDecodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traffic_image_decode_failures_total",
		Help: "Detected image payloads that could not be decoded or written",
	})

	PersistFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_persist_failures_total",
		Help: "Snapshots that were not saved, by reason",
	}, []string{"reason"})
	PersistQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_persist_queue_depth",
		Help: "Snapshots waiting for a persistence worker",
	})

	BackgroundTaskFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_background_task_failures_total",
		Help: "Mirror uploads and event publishes that failed or were dropped, by queue and reason",
	}, []string{"queue", "reason"})

	CameraErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_camera_errors_total",
		Help: "Camera proxy failures by arm and kind",
	}, []string{"arm", "kind"})
	CameraBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_camera_relayed_bytes_total",
		Help: "Bytes relayed from cameras to clients",
	}, []string{"arm"})
	CameraActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "traffic_camera_active_streams",
		Help: "Camera streams currently being relayed",
	})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "traffic_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	registerOnce    sync.Once
	liveClientsOnce sync.Once
)

func init() {
	Register()
}

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WebhooksTotal,
			ImagesStoredTotal,
			ImageDecodeFailuresTotal,
			PersistFailuresTotal,
			PersistQueueDepth,
			BackgroundTaskFailuresTotal,
			CameraErrorsTotal,
			CameraBytesTotal,
			CameraActiveStreams,
			HTTPRequestDuration,
		)
	})
}

// ObserveLiveClients exports count() as traffic_live_clients. Only the first
// call registers.
func ObserveLiveClients(count func() int) {
	liveClientsOnce.Do(func() {
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "traffic_live_clients",
			Help: "Dashboards connected to the live feed",
		}, func() float64 { return float64(count()) }))
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
