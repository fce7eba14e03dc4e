package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_ws_events_total",
			Help: "Total number of websocket channel events.",
		},
		[]string{"event"},
	)
	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatclient_active_subscriptions",
			Help: "Number of live room topic subscriptions.",
		},
	)
	collaboratorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_collaborator_requests_total",
			Help: "Total number of REST collaborator requests.",
		},
		[]string{"operation", "status"},
	)
	collaboratorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatclient_collaborator_request_duration_seconds",
			Help:    "REST collaborator request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	bridgeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatclient_bridge_http_requests_total",
			Help: "Total number of HTTP requests handled by the local bridge.",
		},
		[]string{"method", "route", "status"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatclient_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		wsEventsTotal,
		activeSubscriptions,
		collaboratorRequestsTotal,
		collaboratorRequestDuration,
		bridgeRequestsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts for the local bridge router.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		bridgeRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncActiveSubscriptions() {
	activeSubscriptions.Inc()
}

func DecActiveSubscriptions() {
	activeSubscriptions.Dec()
}

func SetActiveSubscriptions(n float64) {
	activeSubscriptions.Set(n)
}

func ObserveCollaboratorRequest(operation string, status int, elapsed time.Duration) {
	collaboratorRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	collaboratorRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
