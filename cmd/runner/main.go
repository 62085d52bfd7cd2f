// Command runner is the process entrypoint: it wires config, storage, the
// chain boundary, the capability registry, and the scheduler, then drives
// the fleet until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/capabilities"
	"github.com/nfa-labs/agentrunner/internal/chainsvc"
	"github.com/nfa-labs/agentrunner/internal/config"
	"github.com/nfa-labs/agentrunner/internal/httpapi"
	"github.com/nfa-labs/agentrunner/internal/lock"
	"github.com/nfa-labs/agentrunner/internal/metrics"
	"github.com/nfa-labs/agentrunner/internal/notify"
	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/internal/store"
	"github.com/nfa-labs/agentrunner/pkg/logger"
	"github.com/nfa-labs/agentrunner/pkg/models"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("received shutdown signal")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return exitErr{1, fmt.Errorf("config error: %w", err)}
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return exitErr{1, fmt.Errorf("logger init: %w", err)}
	}
	defer logger.Sync()

	logger.Info("agentrunner starting", zap.Int64("chain_id", cfg.Chain.ChainID))

	db, err := store.NewDB(&cfg.Database)
	if err != nil {
		return exitErr{2, err}
	}
	defer db.Close()

	if err := store.RunMigrations(db.Conn(), "./migrations"); err != nil {
		return exitErr{2, fmt.Errorf("run migrations: %w", err)}
	}
	st := store.NewPostgres(db)

	chainClient, err := chainsvc.NewEthClient(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, cfg.Chain.OperatorKey)
	if err != nil {
		return exitErr{2, fmt.Errorf("connect chain rpc: %w", err)}
	}

	registryReader := chainsvc.NewRegistryReader(chainClient, common.HexToAddress(cfg.Chain.RegistryAddr))

	lockFactory, err := buildLockFactory(cfg)
	if err != nil {
		return exitErr{2, err}
	}

	registry := buildRegistry(st, chainClient, cfg)
	factory := runner.NewAgentFactory(registry, st)

	cycle := runner.NewCycle(st, chainClient, runner.CycleConfig{
		MemoryRecallLimit: cfg.Scheduler.MemoryRecallLimit,
		MaxRunRecords:     cfg.Scheduler.MaxRunRecordsPerChain,
		ShadowEnabled:     cfg.Shadow.Enabled,
		ShadowExecuteTx:   cfg.Shadow.ExecuteShadowTx,
		RetryMaxAttempts:  cfg.Scheduler.RetryMaxAttempts,
		RetryBaseDelay:    cfg.Scheduler.RetryBaseDelay,
	})

	notifier := buildNotifier(cfg)

	sched := runner.NewScheduler(runner.SchedulerConfig{
		ChainID:                      cfg.Chain.ChainID,
		PollInterval:                 cfg.Scheduler.PollInterval,
		MinIntervalMs:                5000,
		MaxBackoff:                   cfg.Scheduler.MaxBackoff,
		MaxConcurrentCycles:          cfg.Scheduler.MaxConcurrentCycles,
		GracefulShutdown:             cfg.Scheduler.GracefulShutdown,
		CircuitBreakerMaxConsecutive: cfg.Scheduler.CircuitBreakerMaxConsecutive,
		MaxRunRecords:                cfg.Scheduler.MaxRunRecordsPerChain,
	}, st, registryReader, factory, cycle, lockFactory, notifier)

	// The scheduler runs under its own context so that, on shutdown, Stop can
	// give in-flight cycles the GracefulShutdown window before they are canceled.
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	go sched.Start(schedCtx)

	metricsReg := metrics.NewRegistry()
	metricsHandler := promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{})
	httpServer := httpapi.NewServer(
		fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		sched,
		cfg.HTTP.APIKey,
		cfg.HTTP.MetricsKeyRequired,
		metricsHandler,
	)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("control plane server stopped", zap.Error(err))
		}
	}()

	logger.Info("agentrunner ready")
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Scheduler.GracefulShutdown)
	defer cancelShutdown()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Warn("control plane shutdown", zap.Error(err))
	}
	sched.Stop()
	cancelSched()
	return nil
}

// buildNotifier wires the Telegram operator-alert sink; an unconfigured
// bot token degrades to a no-op rather than failing startup, since alerts
// are an ambient convenience, not a correctness requirement.
func buildNotifier(cfg *config.Config) notify.Notifier {
	if cfg.Telegram.BotToken == "" {
		return notify.NoopNotifier{}
	}
	n, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.AdminID)
	if err != nil {
		logger.Warn("telegram notifier disabled", zap.Error(err))
		return notify.NoopNotifier{}
	}
	return n
}

// buildRegistry populates the capability registry with the built-in brains,
// perception, actions, memory, and guardrails (§4.8).
func buildRegistry(st store.Store, chain chainsvc.Chain, cfg *config.Config) *runner.Registry {
	reg := runner.NewRegistry()

	reg.RegisterBrain("rule-based", func(fc runner.BrainFactoryContext) (runner.Brain, error) {
		return capabilities.NewRuleBasedBrain(st, cfg.Chain.ChainID, fc.StrategyParams), nil
	})
	reg.RegisterBrain("llm", func(fc runner.BrainFactoryContext) (runner.Brain, error) {
		return capabilities.NewLLMBrain(cfg.AI.OpenAIAPIKey, fc.LLMConfig), nil
	})

	reg.RegisterPerception("onchain", func(data models.ChainAgentData) (runner.Perception, error) {
		return capabilities.NewOnchainPerception(chain, data.Vault, nil), nil
	})

	router := common.HexToAddress(cfg.Chain.RouterAddr)
	reg.RegisterAction("swap", func(data models.ChainAgentData) (runner.Action, error) {
		return capabilities.NewSwapAction(router), nil
	})
	reg.RegisterAction("checkBalance", func(data models.ChainAgentData) (runner.Action, error) {
		return capabilities.NewCheckBalanceAction(), nil
	})

	reg.RegisterMemory("postgres", func(data models.ChainAgentData) (runner.Memory, error) {
		return capabilities.NewPostgresMemory(st, data.ChainID, data.TokenID), nil
	})

	reg.RegisterGuardrails("standard", func(data models.ChainAgentData) (runner.Guardrails, error) {
		return capabilities.NewStandardGuardrails(st, chain, cfg.Chain.HardValidatorAddr), nil
	})

	return reg
}

func buildLockFactory(cfg *config.Config) (lock.Factory, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("redis disabled; using in-process noop lock factory (single instance only)")
		return lock.NewNoopFactory(), nil
	}
	client, err := lock.New(cfg.Redis.Host, cfg.Redis.Port)
	if err != nil {
		return nil, fmt.Errorf("connect redis lock client: %w", err)
	}
	if err := client.Health(); err != nil {
		return nil, fmt.Errorf("redis lock health check: %w", err)
	}
	return lock.NewRedisFactory(client), nil
}

// exitErr carries a process exit code alongside the error that caused it
// (§6: "0 normal shutdown; 1 config error; 2 unrecoverable DB error at startup").
type exitErr struct {
	code int
	err  error
}

func (e exitErr) Error() string { return e.err.Error() }
func (e exitErr) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if e, ok := err.(exitErr); ok {
		return e.code
	}
	return 1
}
