package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	outboxPublishCounter   *prometheus.CounterVec
	outboxFailedGauge      prometheus.Gauge
	finalizeCounter        *prometheus.CounterVec
	settlementCounter      *prometheus.CounterVec
	consumerMessageCounter *prometheus.CounterVec
	ingestCounter          *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		outboxPublishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox relay publish outcomes",
		}, []string{"topic", "outcome"})

		outboxFailedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_failed_backlog",
			Help: "Outbox entries in FAILED status awaiting operator action",
		})

		finalizeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_finalize_total",
			Help: "Finalization attempts by outcome and decision",
		}, []string{"outcome", "decision", "reason"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_attempts_total",
			Help: "Settlement attempt outcomes",
		}, []string{"outcome"})

		consumerMessageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Consumed messages by topic and outcome",
		}, []string{"topic", "outcome"})

		ingestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transactions_ingested_total",
			Help: "Ingest outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			outboxPublishCounter,
			outboxFailedGauge,
			finalizeCounter,
			settlementCounter,
			consumerMessageCounter,
			ingestCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementOutboxPublish(topic, outcome string) {
	if outboxPublishCounter == nil {
		return
	}
	outboxPublishCounter.WithLabelValues(topic, outcome).Inc()
}

func SetOutboxFailedBacklog(size int64) {
	if outboxFailedGauge == nil {
		return
	}
	outboxFailedGauge.Set(float64(size))
}

func IncrementFinalize(outcome, decision, reason string) {
	if finalizeCounter == nil {
		return
	}
	finalizeCounter.WithLabelValues(outcome, decision, reason).Inc()
}

func IncrementSettlement(outcome string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(outcome).Inc()
}

func IncrementConsumerMessage(topic, outcome string) {
	if consumerMessageCounter == nil {
		return
	}
	consumerMessageCounter.WithLabelValues(topic, outcome).Inc()
}

func IncrementIngest(outcome string) {
	if ingestCounter == nil {
		return
	}
	ingestCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
