package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"threat-advisor/api/internal/handlers"
	"threat-advisor/api/internal/storage"
	"threat-advisor/internal/app"
	"threat-advisor/internal/metrics"
	"threat-advisor/internal/utils"
)

func main() {
	var (
		configFile = flag.String("config", utils.DefaultConfigPath, "Configuration file path (YAML)")
		port       = flag.String("port", "", "API server port (overrides application.api_port)")
	)
	flag.Parse()

	// Load configuration
	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config %s: %v\n", *configFile, err)
		fmt.Println("Using default configuration...")
		config = utils.GetDefaultConfig()
	}
	if *port == "" {
		*port = config.Application.APIPort
	}

	logger := utils.NewLoggerFromConfig(config.Logging)

	// Recent threats kept in memory for the REST API and the websocket stream
	store := storage.NewStorage(logger)

	detector, err := app.New(config, logger, store)
	if err != nil {
		logger.Fatalf("Failed to build detection pipeline: %v", err)
	}
	defer detector.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := metrics.NewExporter(config.Application.MetricsPort, detector.Registry, logger)
	go func() {
		if err := exporter.Start(ctx); err != nil {
			logger.Errorf("Prometheus exporter error: %v", err)
		}
	}()
	go detector.RunRetention(ctx, time.Hour)

	var history handlers.ThreatHistory
	if detector.Store != nil {
		history = detector.Store
	}
	h := handlers.NewHandlers(store, detector.Scanner, detector.Engine, history, logger)
	router := handlers.NewRouter(h)

	if config.Application.AutoStart {
		detector.Scanner.Start(0)
	}

	// Start server
	addr := fmt.Sprintf(":%s", *port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
	}

	logger.Infof("API server starting on port %s", *port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down API server...")
		detector.Scanner.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
		cancel()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
