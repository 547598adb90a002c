package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/engine/chrome"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/engine/fetch"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/server"
)

const shutdownTimeout = 10 * time.Second

type pageEngine interface {
	navigation.Engine
	Close() error
}

func main() {
	// Parse flags
	port := flag.String("port", "", "Server port (overrides PORT)")
	engineKind := flag.String("engine", "", "Page engine: fetch or chrome (overrides ENGINE_KIND)")
	configPath := flag.String("config", "", "YAML or TOML config file")
	dev := flag.Bool("dev", false, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *engineKind != "" {
		cfg.Engine.Kind = *engineKind
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(cfg *config.Config) error {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	engine, inspector, err := openEngine(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("Failed to close engine", zap.Error(err))
		}
	}()

	ctrl := navigation.New(engine, cfg.NavigationOptions(), logger.Logger).WithMetrics(metrics)
	defer ctrl.Dispose()

	srv, err := server.New(server.Deps{
		Config:     cfg,
		Logger:     logger,
		Controller: ctrl,
		Metrics:    metrics,
		Gatherer:   reg,
		Inspector:  inspector,
		Engine:     cfg.Engine.Kind,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", zap.Stringer("signal", sig))
	case err := <-errChan:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	return nil
}

// openEngine builds the configured page engine. The inspector is nil for
// engines that do not expose page state.
func openEngine(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (pageEngine, server.Inspector, error) {
	switch cfg.Engine.Kind {
	case config.EngineFetch:
		fc := fetch.DefaultConfig()
		fc.UserAgent = cfg.Engine.UserAgent
		fc.RequestTimeout = cfg.Engine.RequestTimeout()
		fc.ScriptTimeout = cfg.Engine.ScriptTimeout()
		fc.SandboxPool = cfg.Engine.SandboxPool
		fc.RequestsPerHost = float64(cfg.Engine.RequestsPerHost)
		engine, err := fetch.New(fc, logger.Logger, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start fetch engine: %w", err)
		}
		logger.Info("Fetch engine ready",
			zap.String("user_agent", fc.UserAgent),
			zap.Int("sandbox_pool", fc.SandboxPool),
		)
		return engine, engine, nil

	case config.EngineChrome:
		engine, err := chrome.New(chrome.Config{
			Bin:         cfg.Engine.ChromeBin,
			DebuggerURL: cfg.Engine.ChromeDebugURL,
			Headless:    cfg.Engine.ChromeHeadless,
		}, logger.Logger, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start chrome engine: %w", err)
		}
		logger.Info("Chrome engine ready", zap.String("debugger_url", cfg.Engine.ChromeDebugURL))
		return engine, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine.Kind)
	}
}
