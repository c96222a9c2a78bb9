package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guardrailstack/guardrail-monitor/internal/api"
	"github.com/guardrailstack/guardrail-monitor/internal/config"
	"github.com/guardrailstack/guardrail-monitor/internal/engine"
	"github.com/guardrailstack/guardrail-monitor/internal/metrics"
	"github.com/guardrailstack/guardrail-monitor/internal/models"
	"github.com/guardrailstack/guardrail-monitor/internal/notify"
	"github.com/guardrailstack/guardrail-monitor/internal/repo"
	"github.com/guardrailstack/guardrail-monitor/internal/utils"
)

func main() {
	var configPath string
	var until string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&until, "until", "", "Absolute RFC3339 deadline overriding the monitoring window")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	if until != "" {
		deadline, err := utils.ParseRFC3339(until)
		if err != nil {
			slog.Error("invalid -until value", slog.Any("error", err))
			os.Exit(1)
		}
		window := time.Until(deadline)
		if window <= 0 {
			slog.Error("-until deadline is in the past", slog.String("until", until))
			os.Exit(1)
		}
		cfg.Monitor.Window = window
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting guardrail-monitor",
		slog.String("address", cfg.Server.Address),
		slog.Int("environments", len(cfg.Environments)),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	notifier := notify.NewWebhookNotifier(logger, cfg.Notifier.WebhookURL, cfg.Notifier.FallbackPath, cfg.Notifier.Timeout)
	locator := repo.NewFilesystemBackupLocator(cfg.Rollback.BackupDir)
	executor := repo.NewCommandRollbackExecutor(logger, cfg.Rollback.Command, cfg.Rollback.Args, cfg.Rollback.Timeout)

	sessions := make([]*engine.MonitorSession, 0, len(cfg.Environments))
	for _, env := range cfg.Environments {
		session, err := engine.NewMonitorSession(
			logger,
			engine.SessionConfig{
				Environment: env.Name,
				Scheduler: engine.SchedulerConfig{
					Window:         cfg.Monitor.Window,
					BurnIn:         cfg.Monitor.BurnIn,
					FastInterval:   cfg.Monitor.FastInterval,
					NormalInterval: cfg.Monitor.NormalInterval,
				},
				Rollback: engine.RollbackConfig{
					HealthRetryCount:    cfg.Monitor.HealthRetryCount,
					HealthRetryInterval: cfg.Monitor.HealthRetryInterval,
				},
				Gates: cfg.Gates,
			},
			repo.NewHTTPHealthProbe(env.HealthURL, cfg.Probe.Timeout),
			repo.NewHTTPMetricsProbe(env.MetricsURL, cfg.Probe.Timeout),
			notifier,
			locator,
			executor,
		)
		if err != nil {
			logger.Error("failed to build session", slog.String("environment", env.Name), slog.Any("error", err))
			os.Exit(1)
		}
		sessions = append(sessions, session)
	}

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create status server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("status server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	reports := make([]models.SessionReport, 0, len(sessions))

	for _, session := range sessions {
		wg.Add(1)
		go func(s *engine.MonitorSession) {
			defer wg.Done()
			report, err := s.Run(ctx)
			if err != nil {
				logger.Error("session ended with error", slog.String("environment", report.Environment), slog.Any("error", err))
			}
			if path, werr := writeReport(cfg.Report.Dir, report); werr != nil {
				logger.Error("failed to write report", slog.Any("error", werr))
			} else if path != "" {
				logger.Info("session report written", slog.String("path", path))
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}(session)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		for _, session := range sessions {
			session.Stop()
		}
		// An in-flight rollback completes or definitively fails before exit.
		<-done
	case <-done:
		logger.Info("all monitoring sessions completed")
	}

	server.SetNotServing()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	exitCode := 0
	for _, report := range reports {
		if report.Rollback != nil {
			exitCode = 1
		}
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("guardrail-monitor stopped", slog.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

// writeReport persists one session report as pretty-printed JSON.
func writeReport(dir string, report models.SessionReport) (string, error) {
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	name := fmt.Sprintf("%s-%s.json", report.Environment, report.SessionID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
