// Package main provides the entry point for the backtest server: an
// HTTP/WebSocket host for running event-driven perpetuals backtests,
// plus a -batch mode for fanning a file of run configs out across a
// worker pool, and an -optimize mode for searching a strategy's
// parameter space, both without starting the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperarena/backtest-core/internal/api"
	"github.com/hyperarena/backtest-core/internal/backtester"
	"github.com/hyperarena/backtest-core/internal/config"
	"github.com/hyperarena/backtest-core/internal/data"
	"github.com/hyperarena/backtest-core/internal/regime"
	"github.com/hyperarena/backtest-core/internal/signals"
	"github.com/hyperarena/backtest-core/internal/strategy"
	"github.com/hyperarena/backtest-core/internal/workers"
	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (defaults to ./config.yaml)")
	host := flag.String("host", "", "Override server host")
	port := flag.Int("port", 0, "Override server port")
	batchFile := flag.String("batch", "", "Run a JSON array of BacktestConfigs from this file and exit, instead of starting the server")
	optimizeFile := flag.String("optimize", "", "Search a strategy's parameter space against this JSON optimize request and exit, instead of starting the server")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := setupLogger(cfg.Logging.Level)
	defer logger.Sync()

	store, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	pools := buildPoolDefinitions(cfg.Pools)
	logger.Info("loaded signal pools", zap.Int("count", len(pools)))

	if *batchFile != "" {
		runBatch(logger, store, pools, cfg.Batch, *batchFile)
		return
	}
	if *optimizeFile != "" {
		runOptimize(logger, store, pools, *optimizeFile)
		return
	}

	serverConfig := &types.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxConnections: cfg.Server.MaxConnections,
	}
	server := api.NewServer(logger, serverConfig, store, pools)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("backtest server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	logger.Info("backtest server stopped")
}

// runBatch decodes a JSON array of BacktestConfigs from path and runs
// each one to completion concurrently via a bounded worker pool,
// printing every finished BacktestResult to stdout as it lands.
func runBatch(logger *zap.Logger, store *data.Store, pools []signals.PoolDefinition, batchCfg config.BatchConfig, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("failed to read batch file", zap.Error(err))
	}
	var configs []types.BacktestConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		logger.Fatal("failed to parse batch file", zap.Error(err))
	}

	poolCfg := workers.DefaultPoolConfig("batch-backtests")
	if batchCfg.NumWorkers > 0 {
		poolCfg.NumWorkers = batchCfg.NumWorkers
	}
	pool := workers.NewPool(logger, poolCfg)
	pool.Start()

	var wg sync.WaitGroup
	wg.Add(len(configs))
	for i := range configs {
		cfg := configs[i]
		go func() {
			defer wg.Done()
			err := pool.SubmitWait(workers.TaskFunc(func() error {
				engine := buildEngine(logger, store, pools)
				result, err := engine.Run(context.Background(), cfg)
				if err != nil {
					return err
				}
				out, _ := json.Marshal(result)
				fmt.Println(string(out))
				return nil
			}))
			if err != nil {
				logger.Error("batch run failed", zap.String("id", cfg.ID), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	pool.Stop()

	stats := pool.Stats()
	logger.Info("batch complete",
		zap.Int64("completed", stats.TasksCompleted),
		zap.Int64("failed", stats.TasksFailed),
	)
}

func buildEngine(logger *zap.Logger, store *data.Store, pools []signals.PoolDefinition) *backtester.Engine {
	provider := data.NewHistoricalDataProvider(store)
	poolEval := signals.NewPoolEvaluator(logger, store, pools)
	classifier := regime.NewClassifier(logger, store, regime.DefaultConfig())
	strategyRunner := strategy.NewRunner(logger, store)
	return backtester.NewEngine(provider, poolEval, classifier, strategyRunner, logger)
}

func buildPoolDefinitions(cfgs []config.PoolConfig) []signals.PoolDefinition {
	pools := make([]signals.PoolDefinition, 0, len(cfgs))
	for _, p := range cfgs {
		rules := make([]signals.SignalRule, 0, len(p.Rules))
		for _, r := range p.Rules {
			rules = append(rules, signals.SignalRule{
				Name:      r.Name,
				Indicator: r.Indicator,
				Period:    r.Period,
				Operator:  r.Operator,
				Threshold: r.Threshold,
				Direction: r.Direction,
			})
		}
		pools = append(pools, signals.PoolDefinition{
			ID:       p.ID,
			Name:     p.Name,
			Logic:    p.Logic,
			Interval: types.Interval(p.Interval),
			Rules:    rules,
		})
	}
	return pools
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
