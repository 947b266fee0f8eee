package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"threat-advisor/internal/alert"
	"threat-advisor/internal/collector"
	"threat-advisor/internal/metrics"
	"threat-advisor/internal/model"
	"threat-advisor/internal/pipeline"
	"threat-advisor/internal/risk"
	"threat-advisor/internal/rules"
	"threat-advisor/internal/scanner"
	"threat-advisor/internal/storage"
	"threat-advisor/internal/utils"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App is the assembled detection pipeline shared by the daemon and the API server
type App struct {
	Config   *utils.Config
	Engine   *rules.Engine
	Scorer   *risk.Scorer
	Scanner  *scanner.Scanner
	Store    *storage.Store
	Metrics  *metrics.ScanMetrics
	Registry *prometheus.Registry

	logger  *logrus.Logger
	closers []func() error
}

// New wires collectors, rules, scoring and sinks from cfg. extra notifiers are
// always attached and bypass the alerting min level.
//
// Optional parts that fail to start (procfs, auth log, file watch, NATS, store)
// are logged and left out so the pipeline still runs with what is available.
func New(cfg *utils.Config, logger *logrus.Logger, extra ...alert.Notifier) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: metrics.CreateCustomRegistry(),
		logger:   logger,
	}
	a.Metrics = metrics.NewScanMetrics(a.Registry)

	engine, err := rules.NewEngineWithRules(logger, LoadRuleSet(cfg.Detection.RulesFile, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}
	a.Engine = engine
	a.Metrics.RulesLoaded.Set(float64(engine.Count()))

	a.Scorer = risk.NewScorer(risk.ConfigFrom(cfg.RiskAssessment), logger)

	var contexts pipeline.ContextSource
	if cfg.RiskAssessment.Context.Enabled {
		provider, err := risk.NewContextProvider(cfg.RiskAssessment.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to build risk context provider: %w", err)
		}
		contexts = provider
	}
	processor := pipeline.NewProcessor(engine, a.Scorer, contexts, logger)

	collectors := a.buildCollectors()
	notifiers := append(a.buildNotifiers(), extra...)

	opts := scanner.Options{
		Interval:     cfg.ScanInterval(),
		ErrorBackoff: cfg.ErrorBackoff(),
		Notifiers:    notifiers,
		Metrics:      a.Metrics,
	}
	if cfg.Storage.Enabled {
		store, err := storage.Open(cfg.Storage, logger)
		if err != nil {
			logger.Warnf("Threat store unavailable, continuing without persistence: %v", err)
		} else {
			a.Store = store
			a.closers = append(a.closers, store.Close)
			opts.Store = store
		}
	}

	a.Scanner = scanner.NewScanner(collectors, processor, opts, logger)
	logger.Infof("Pipeline ready: %d collectors, %d rules, %d notifiers", len(collectors), engine.Count(), len(notifiers))
	return a, nil
}

func (a *App) buildCollectors() []collector.Collector {
	cfg := a.Config.Monitoring
	var collectors []collector.Collector

	if cfg.System.Enabled || cfg.Network.Enabled {
		source, err := collector.NewProcfsSource("")
		if err != nil {
			a.logger.Warnf("Host sampling disabled: %v", err)
		} else {
			if cfg.System.Enabled {
				collectors = append(collectors, collector.NewSystemCollector(cfg.System, source, a.logger))
			}
			if cfg.Network.Enabled {
				collectors = append(collectors, collector.NewNetworkCollector(cfg.Network, source, a.logger))
			}
		}
	}

	if cfg.AuthLog.Enabled {
		c := collector.NewAuthLogCollector(cfg.AuthLog, a.logger)
		if err := c.Start(); err != nil {
			a.logger.Warnf("Auth log collector disabled: %v", err)
		} else {
			collectors = append(collectors, c)
			a.closers = append(a.closers, c.Close)
		}
	}

	if cfg.FileWatch.Enabled {
		c, err := collector.NewFileWatchCollector(cfg.FileWatch, a.logger)
		if err != nil {
			a.logger.Warnf("File watch collector disabled: %v", err)
		} else {
			collectors = append(collectors, c)
			a.closers = append(a.closers, c.Close)
		}
	}

	return collectors
}

func (a *App) buildNotifiers() []alert.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil
	}
	min := model.RiskLevel(cfg.MinRiskLevel)

	var notifiers []alert.Notifier
	if cfg.Channels.Log {
		notifiers = append(notifiers, alert.NewLogAlertNotifier(a.logger))
	}
	if cfg.Channels.Audit {
		notifiers = append(notifiers, alert.NewAuditNotifier(cfg.Audit.Path))
	}
	if cfg.Channels.Telegram && cfg.Telegram.Enabled {
		notifiers = append(notifiers, alert.NewTelegramNotifier(cfg.Telegram, a.logger))
	}
	if cfg.Channels.NATS {
		if n := a.natsNotifier(cfg.NATS); n != nil {
			notifiers = append(notifiers, n)
		}
	}

	for i, n := range notifiers {
		notifiers[i] = alert.WithMinLevel(n, min)
	}
	return notifiers
}

func (a *App) natsNotifier(cfg utils.NATSConfig) alert.Notifier {
	nc, err := alert.ConnectNATS(cfg.URL, a.logger)
	if err != nil {
		a.logger.Warnf("NATS publisher disabled: %v", err)
		return nil
	}
	pub, err := alert.NewNATSPublisher(nc, cfg, a.logger)
	if err != nil {
		nc.Close()
		a.logger.Warnf("NATS publisher disabled: %v", err)
		return nil
	}
	a.closers = append(a.closers, func() error { return drain(nc) })
	return pub
}

func drain(nc *nats.Conn) error {
	if err := nc.Drain(); err != nil {
		nc.Close()
		return err
	}
	return nil
}

// ReloadRules re-reads the rules file and swaps the rule set atomically.
// On any error the current rules stay in place.
func (a *App) ReloadRules() error {
	path := a.Config.Detection.RulesFile
	if path == "" {
		return fmt.Errorf("no rules file configured")
	}
	loaded, err := rules.LoadRules(path)
	if err != nil {
		return err
	}
	if err := a.Engine.ReplaceRules(loaded); err != nil {
		return err
	}
	a.Metrics.RulesLoaded.Set(float64(a.Engine.Count()))
	a.logger.Infof("Reloaded %d rules from %s", len(loaded), path)
	return nil
}

// RunRetention purges stored threats older than the configured retention
// once per interval until ctx is done. It returns immediately without a store.
func (a *App) RunRetention(ctx context.Context, every time.Duration) {
	if a.Store == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		a.purge(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) purge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -a.Config.Storage.RetentionDays)
	if _, err := a.Store.Purge(ctx, cutoff); err != nil {
		a.logger.Warnf("Retention purge failed: %v", err)
	}
}

// Close stops the scanner and releases every sink and collector
func (a *App) Close() {
	a.Scanner.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warnf("Close error: %v", err)
		}
	}
}

// LoadRuleSet loads path, falling back to the built-in rules when path is
// empty, missing or invalid
func LoadRuleSet(path string, logger *logrus.Logger) []model.Rule {
	if path == "" {
		logger.Info("No rules file configured, using built-in rules")
		return rules.DefaultRules()
	}
	if _, err := os.Stat(path); err != nil {
		logger.Warnf("Rules file %s not readable (%v), using built-in rules", path, err)
		return rules.DefaultRules()
	}
	loaded, err := rules.LoadRules(path)
	if err != nil {
		logger.Errorf("Failed to load rules from %s: %v, using built-in rules", path, err)
		return rules.DefaultRules()
	}
	logger.Infof("Loaded %d rules from %s", len(loaded), path)
	return loaded
}
