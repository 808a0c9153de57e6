// Package metrics collects Prometheus counters for jobs, sources and
// deliveries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by jobs, sources and the sink.
type Recorder interface {
	JobRun(job, outcome string)
	JobSkipped(job, reason string)
	SourceItems(source string, count int)
	SourceFailure(source string)
	Delivery(outcome string)
	LedgerSize(size int)
}

// Delivery outcomes.
const (
	DeliverySent      = "sent"
	DeliveryTransient = "transient_error"
	DeliveryPermanent = "permanent_error"
	DeliveryDuplicate = "duplicate"
)

// Collector records metrics into a Prometheus registry.
type Collector struct {
	jobRuns        *prometheus.CounterVec
	jobSkips       *prometheus.CounterVec
	sourceItems    *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	ledgerSize     prometheus.Gauge
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_job_runs_total",
			Help: "Job executions by outcome.",
		}, []string{"job", "outcome"}),
		jobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_job_skips_total",
			Help: "Job ticks that did no work, by reason.",
		}, []string{"job", "reason"}),
		sourceItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_source_items_total",
			Help: "Normalized items produced per source.",
		}, []string{"source"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_source_failures_total",
			Help: "Source scans that failed or were recovered.",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_ledger_size",
			Help: "Ids currently held by the dedup ledger.",
		}),
	}

	reg.MustRegister(
		c.jobRuns,
		c.jobSkips,
		c.sourceItems,
		c.sourceFailures,
		c.deliveries,
		c.ledgerSize,
	)

	return c
}

func (c *Collector) JobRun(job, outcome string) {
	c.jobRuns.WithLabelValues(job, outcome).Inc()
}

func (c *Collector) JobSkipped(job, reason string) {
	c.jobSkips.WithLabelValues(job, reason).Inc()
}

func (c *Collector) SourceItems(source string, count int) {
	c.sourceItems.WithLabelValues(source).Add(float64(count))
}

func (c *Collector) SourceFailure(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
}

func (c *Collector) Delivery(outcome string) {
	c.deliveries.WithLabelValues(outcome).Inc()
}

func (c *Collector) LedgerSize(size int) {
	c.ledgerSize.Set(float64(size))
}

// Handler exposes gatherer for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) JobRun(string, string)     {}
func (Nop) JobSkipped(string, string) {}
func (Nop) SourceItems(string, int)   {}
func (Nop) SourceFailure(string)      {}
func (Nop) Delivery(string)           {}
func (Nop) LedgerSize(int)            {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
