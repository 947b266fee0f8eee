package metrics

import (
	"time"

	"threat-advisor/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/version"
)

// ScanMetrics are the Prometheus series describing scan activity
type ScanMetrics struct {
	// Scan metrics
	ScansTotal   prometheus.Counter
	ScanFailures prometheus.Counter
	ScanDuration prometheus.Histogram
	Running      prometheus.Gauge

	// Pipeline metrics
	EventsTotal     *prometheus.CounterVec
	EventErrors     prometheus.Counter
	CollectorErrors *prometheus.CounterVec
	ThreatsTotal    *prometheus.CounterVec
	RiskScore       prometheus.Histogram
	RulesLoaded     prometheus.Gauge

	// Sink metrics
	SinkErrors *prometheus.CounterVec

	BuildInfo *prometheus.GaugeVec
}

// NewScanMetrics creates the scan metrics and registers them on reg
func NewScanMetrics(reg prometheus.Registerer) *ScanMetrics {
	f := promauto.With(reg)

	m := &ScanMetrics{
		ScansTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "threat_advisor_scans_total",
			Help: "Total number of completed scan cycles",
		}),
		ScanFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "threat_advisor_scan_failures_total",
			Help: "Total number of scan cycles aborted by an unexpected failure",
		}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "threat_advisor_scan_duration_seconds",
			Help:    "Duration of a scan cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "threat_advisor_scanner_running",
			Help: "1 while the continuous scan loop is running",
		}),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threat_advisor_events_total",
				Help: "Total number of collected events",
			},
			[]string{"event_type", "source"},
		),
		EventErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "threat_advisor_event_errors_total",
			Help: "Total number of events whose processing failed",
		}),
		CollectorErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threat_advisor_collector_errors_total",
				Help: "Total number of failed collector samples",
			},
			[]string{"collector"},
		),
		ThreatsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threat_advisor_threats_total",
				Help: "Total number of detected threats",
			},
			[]string{"rule", "category", "risk_level"},
		),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "threat_advisor_risk_score",
			Help:    "Distribution of threat risk scores",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		RulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "threat_advisor_rules_loaded",
			Help: "Number of detection rules currently loaded",
		}),
		SinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threat_advisor_sink_errors_total",
				Help: "Total number of failed deliveries to threat sinks",
			},
			[]string{"sink"},
		),
		BuildInfo: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threat_advisor_build_info",
				Help: "Build information of the running binary",
			},
			[]string{"version", "revision", "goversion"},
		),
	}

	m.BuildInfo.WithLabelValues(version.Version, version.Revision, version.GoVersion).Set(1)
	return m
}

// ObserveScan records one completed scan cycle
func (m *ScanMetrics) ObserveScan(duration time.Duration, events []model.Event, threats []model.Threat) {
	m.ScansTotal.Inc()
	m.ScanDuration.Observe(duration.Seconds())
	for _, e := range events {
		m.EventsTotal.WithLabelValues(string(e.Type), e.Source).Inc()
	}
	for _, t := range threats {
		m.ThreatsTotal.WithLabelValues(t.RuleMatched, t.Category, string(t.RiskLevel)).Inc()
		m.RiskScore.Observe(t.RiskScore)
	}
}

func (m *ScanMetrics) SetRunning(running bool) {
	if running {
		m.Running.Set(1)
		return
	}
	m.Running.Set(0)
}
