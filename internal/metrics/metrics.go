// Package metrics collects and exposes Prometheus metrics for the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the pipeline and servers.
type Recorder interface {
	RecordMessageArchived(duplicate bool)
	RecordExtraction(outcome string)
	RecordExtractionLatency(d time.Duration)
	RecordTokens(model string, tokens int)
	RecordNotification(matched int)
	RecordCrossPostCollapsed(n int)
	RecordQueueSaturation()
}

// Collector implements Recorder on a Prometheus registry.
type Collector struct {
	messagesArchived   *prometheus.CounterVec
	extractions        *prometheus.CounterVec
	extractionLatency  prometheus.Histogram
	llmTokens          *prometheus.CounterVec
	notificationsSent  prometheus.Counter
	crossPostCollapsed prometheus.Counter
	queueSaturation    prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_messages_archived_total",
			Help: "Archived inbound messages, by duplicate flag.",
		}, []string{"duplicate"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_extractions_total",
			Help: "Extraction attempts by outcome.",
		}, []string{"outcome"}),
		extractionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_extraction_latency_seconds",
			Help:    "End-to-end extraction latency per message.",
			Buckets: prometheus.DefBuckets,
		}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_llm_tokens_total",
			Help: "LLM tokens consumed, by model.",
		}, []string{"model"}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_notifications_matched_total",
			Help: "Rule matches dispatched for new listings.",
		}),
		crossPostCollapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_crosspost_collapsed_total",
			Help: "Listings soft-deleted as exact cross-post repeats.",
		}),
		queueSaturation: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_pipeline_queue_saturation_total",
			Help: "Times a submit ran inline because the queue was full.",
		}),
	}

	reg.MustRegister(
		c.messagesArchived,
		c.extractions,
		c.extractionLatency,
		c.llmTokens,
		c.notificationsSent,
		c.crossPostCollapsed,
		c.queueSaturation,
	)

	return c
}

// RecordMessageArchived counts one archived (or deduplicated) message.
func (c *Collector) RecordMessageArchived(duplicate bool) {
	label := "false"
	if duplicate {
		label = "true"
	}
	c.messagesArchived.WithLabelValues(label).Inc()
}

// RecordExtraction counts one extraction attempt by outcome.
func (c *Collector) RecordExtraction(outcome string) {
	c.extractions.WithLabelValues(outcome).Inc()
}

// RecordExtractionLatency observes one message's extraction latency.
func (c *Collector) RecordExtractionLatency(d time.Duration) {
	c.extractionLatency.Observe(d.Seconds())
}

// RecordTokens counts LLM tokens by model.
func (c *Collector) RecordTokens(model string, tokens int) {
	if model == "" {
		model = "unknown"
	}
	c.llmTokens.WithLabelValues(model).Add(float64(tokens))
}

// RecordNotification counts dispatched rule matches.
func (c *Collector) RecordNotification(matched int) {
	c.notificationsSent.Add(float64(matched))
}

// RecordCrossPostCollapsed counts collapsed cross-post repeats.
func (c *Collector) RecordCrossPostCollapsed(n int) {
	c.crossPostCollapsed.Add(float64(n))
}

// RecordQueueSaturation counts caller-runs fallbacks under load.
func (c *Collector) RecordQueueSaturation() {
	c.queueSaturation.Inc()
}

// Handler returns the Prometheus scrape handler for the registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything, for tests.
type Nop struct{}

func (Nop) RecordMessageArchived(bool)            {}
func (Nop) RecordExtraction(string)               {}
func (Nop) RecordExtractionLatency(time.Duration) {}
func (Nop) RecordTokens(string, int)              {}
func (Nop) RecordNotification(int)                {}
func (Nop) RecordCrossPostCollapsed(int)          {}
func (Nop) RecordQueueSaturation()                {}
