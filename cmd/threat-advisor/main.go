package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threat-advisor/internal/app"
	"threat-advisor/internal/metrics"
	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/prometheus/common/version"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configFile  = flag.String("config", utils.DefaultConfigPath, "Configuration file path (YAML)")
		once        = flag.Bool("once", false, "Run a single scan and exit")
		interval    = flag.Int("interval", 0, "Scan interval in seconds (overrides application.scan_interval_seconds)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Print("threat-advisor"))
		return
	}

	// Load configuration from YAML file
	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load YAML config %s: %v\n", *configFile, err)
		fmt.Println("Using default configuration...")
		config = utils.GetDefaultConfig()
	} else {
		fmt.Printf("Loaded configuration from %s\n", *configFile)
	}
	if *interval > 0 {
		config.Application.ScanIntervalSeconds = *interval
	}

	logger := utils.NewLoggerFromConfig(config.Logging)
	logger.Infof("Threat Advisor %s", version.Info())

	detector, err := app.New(config, logger)
	if err != nil {
		logger.Fatalf("Failed to build detection pipeline: %v", err)
	}

	if *once {
		code := runOnce(detector, logger)
		detector.Close()
		os.Exit(code)
	}

	runContinuous(detector, config, logger)
	detector.Close()
}

func runOnce(detector *app.App, logger *logrus.Logger) int {
	res, err := detector.Scanner.RunOnce(context.Background())
	if err != nil {
		logger.Errorf("Scan failed: %v", err)
		return 1
	}

	fmt.Printf("Scan #%d: %d events, %d threats in %s\n",
		res.ScanNumber, res.EventsCollected, len(res.Threats), res.Duration.Round(time.Millisecond))
	for _, t := range res.Threats {
		fmt.Printf("%s [%s %.2f] %s (rule %s)\n",
			levelMarker(t.RiskLevel), t.RiskLevel, t.RiskScore, t.ThreatName, t.RuleMatched)
	}
	return 0
}

func runContinuous(detector *app.App, config *utils.Config, logger *logrus.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := metrics.NewExporter(config.Application.MetricsPort, detector.Registry, logger)
	go func() {
		if err := exporter.Start(ctx); err != nil {
			logger.Errorf("Prometheus exporter error: %v", err)
		}
	}()
	go detector.RunRetention(ctx, time.Hour)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	detector.Scanner.Start(config.ScanInterval())

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := detector.ReloadRules(); err != nil {
				logger.Errorf("Rule reload failed, keeping current rules: %v", err)
			}
			continue
		}

		fmt.Println("\nStopping threat scanning...")
		detector.Scanner.Stop()
		select {
		case <-detector.Scanner.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("Scan cycle still running at shutdown")
		}
		return
	}
}

func levelMarker(level model.RiskLevel) string {
	switch level {
	case model.RiskCritical, model.RiskHigh:
		return "🔴"
	case model.RiskMedium:
		return "🟡"
	default:
		return "🟢"
	}
}
