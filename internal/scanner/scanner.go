package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"threat-advisor/internal/alert"
	"threat-advisor/internal/collector"
	"threat-advisor/internal/metrics"
	"threat-advisor/internal/model"
	"threat-advisor/internal/pipeline"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultErrorBackoff = 5 * time.Second
)

// ThreatStore persists a cycle's events and threats and hands back opaque ids
type ThreatStore interface {
	SaveEvent(ctx context.Context, event model.Event) (string, error)
	SaveThreat(ctx context.Context, threat model.Threat) (string, error)
}

// Options configures a Scanner. Zero values take defaults; Store, Notifiers and Metrics are optional.
type Options struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	Store        ThreatStore
	Notifiers    []alert.Notifier
	Metrics      *metrics.ScanMetrics
}

// Result describes one completed scan cycle
type Result struct {
	ScanNumber      int64          `json:"scan_number"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"duration"`
	EventsCollected int            `json:"events_collected"`
	Threats         []model.Threat `json:"threats"`
	StoredIDs       []string       `json:"stored_ids,omitempty"`
}

// Status is a point-in-time view of the scanner
type Status struct {
	Running     bool          `json:"running"`
	ScanCount   int64         `json:"scan_count"`
	LastScanAt  time.Time     `json:"last_scan_at,omitempty"`
	LastThreats int           `json:"last_threats"`
	Interval    time.Duration `json:"interval"`
}

// Scanner runs collectors, the processor and the sinks as scan cycles, either
// once on demand or continuously on a background goroutine.
//
// Cycles never overlap: RunOnce and the loop share cycleMu, so collector
// snapshots are only touched by one cycle at a time.
type Scanner struct {
	collectors []collector.Collector
	processor  *pipeline.Processor
	store      ThreatStore
	notifiers  []alert.Notifier
	metrics    *metrics.ScanMetrics
	logger     *logrus.Logger

	interval time.Duration
	backoff  time.Duration

	cycleMu sync.Mutex

	running atomic.Bool
	scans   atomic.Int64

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	loopEvery   time.Duration
	lastScanAt  time.Time
	lastThreats int
}

// NewScanner creates a scanner over collectors, sampled in the given order
func NewScanner(collectors []collector.Collector, processor *pipeline.Processor, opts Options, logger *logrus.Logger) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	done := make(chan struct{})
	close(done)
	return &Scanner{
		collectors: collectors,
		processor:  processor,
		store:      opts.Store,
		notifiers:  opts.Notifiers,
		metrics:    opts.Metrics,
		logger:     logger,
		interval:   opts.Interval,
		backoff:    opts.ErrorBackoff,
		done:       done,
		loopEvery:  opts.Interval,
	}
}

// RunOnce runs a single cycle synchronously. It waits for a cycle already in
// progress. The error is non-nil only when the cycle itself failed unexpectedly.
func (s *Scanner) RunOnce(ctx context.Context) (Result, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.cycle(ctx)
}

func (s *Scanner) cycle(ctx context.Context) (res Result, err error) {
	res.StartedAt = time.Now()
	res.ScanNumber = s.scans.Add(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan #%d panicked: %v", res.ScanNumber, r)
			if s.metrics != nil {
				s.metrics.ScanFailures.Inc()
			}
		}
	}()

	s.logger.Debugf("Scan #%d started", res.ScanNumber)

	var events []model.Event
	for _, c := range s.collectors {
		sampled, err := s.sample(ctx, c)
		if err != nil {
			s.logger.Warnf("Collector %s failed: %v", c.Name(), err)
			if s.metrics != nil {
				s.metrics.CollectorErrors.WithLabelValues(c.Name()).Inc()
			}
			continue
		}
		events = append(events, sampled...)
	}
	res.EventsCollected = len(events)

	threats, errs := s.processor.ProcessAll(ctx, events)
	if s.metrics != nil && len(errs) > 0 {
		s.metrics.EventErrors.Add(float64(len(errs)))
	}
	res.Threats = threats

	if s.store != nil {
		res.StoredIDs = s.persist(ctx, events, threats)
	}
	s.notify(threats)

	res.Duration = time.Since(res.StartedAt)
	if s.metrics != nil {
		s.metrics.ObserveScan(res.Duration, events, threats)
	}

	s.mu.Lock()
	s.lastScanAt = res.StartedAt
	s.lastThreats = len(threats)
	s.mu.Unlock()

	s.logger.Debugf("Scan #%d completed in %s: %d events, %d threats",
		res.ScanNumber, res.Duration, res.EventsCollected, len(threats))
	return res, nil
}

// sample isolates one collector so its failure or panic leaves the others running
func (s *Scanner) sample(ctx context.Context, c collector.Collector) (events []model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Sample(ctx)
}

func (s *Scanner) persist(ctx context.Context, events []model.Event, threats []model.Threat) []string {
	for _, e := range events {
		if _, err := s.store.SaveEvent(ctx, e); err != nil {
			s.sinkFailed("store", err)
		}
	}
	ids := make([]string, 0, len(threats))
	for _, t := range threats {
		id, err := s.store.SaveThreat(ctx, t)
		if err != nil {
			s.sinkFailed("store", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Scanner) notify(threats []model.Threat) {
	for _, t := range threats {
		for _, n := range s.notifiers {
			if err := n.SendAlert(t); err != nil {
				s.sinkFailed(alert.NameOf(n), err)
			}
		}
	}
}

func (s *Scanner) sinkFailed(sink string, err error) {
	s.logger.Warnf("Failed to deliver to %s: %v", sink, err)
	if s.metrics != nil {
		s.metrics.SinkErrors.WithLabelValues(sink).Inc()
	}
}

// Start launches the continuous loop. It reports false when the loop is already running.
// A non-positive interval uses the configured one.
func (s *Scanner) Start(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}
	if interval <= 0 {
		interval = s.interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.loopEvery = interval
	s.running.Store(true)
	if s.metrics != nil {
		s.metrics.SetRunning(true)
	}

	s.logger.Infof("Continuous scanning started (interval %s)", interval)
	go s.loop(ctx, interval, done)
	return true
}

// Stop asks the loop to exit. A cycle in progress finishes first; a pending
// sleep is cut short. It reports false when the loop is not running.
func (s *Scanner) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}
	s.cancel()
	s.running.Store(false)
	if s.metrics != nil {
		s.metrics.SetRunning(false)
	}
	s.logger.Info("Continuous scanning stopped")
	return true
}

// Done is closed when the most recently started loop has exited
func (s *Scanner) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.running.Load(),
		ScanCount:   s.scans.Load(),
		LastScanAt:  s.lastScanAt,
		LastThreats: s.lastThreats,
		Interval:    s.loopEvery,
	}
}

func (s *Scanner) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		wait := interval
		s.cycleMu.Lock()
		if ctx.Err() != nil {
			s.cycleMu.Unlock()
			return
		}
		// stop takes effect between cycles, never inside one
		_, err := s.cycle(context.WithoutCancel(ctx))
		s.cycleMu.Unlock()
		if err != nil {
			s.logger.Errorf("Scan cycle failed, backing off %s: %v", s.backoff, err)
			wait = s.backoff
		}

		if !sleep(ctx, wait) {
			return
		}
	}
}

// sleep waits for d and reports false if ctx was cancelled first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
