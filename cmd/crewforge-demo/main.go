package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	temporalclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	budgetinmem "github.com/anthonybaldwin/crewforge/internal/budget/inmem"
	budgetmongo "github.com/anthonybaldwin/crewforge/internal/budget/mongo"
	"github.com/anthonybaldwin/crewforge/internal/bus"
	busredis "github.com/anthonybaldwin/crewforge/internal/bus/redis"
	"github.com/anthonybaldwin/crewforge/internal/config"
	"github.com/anthonybaldwin/crewforge/internal/engine"
	engineinmem "github.com/anthonybaldwin/crewforge/internal/engine/inmem"
	enginetemporal "github.com/anthonybaldwin/crewforge/internal/engine/temporal"
	"github.com/anthonybaldwin/crewforge/internal/gateway"
	"github.com/anthonybaldwin/crewforge/internal/orchestrator"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/runner"
	"github.com/anthonybaldwin/crewforge/internal/scheduler"
	"github.com/anthonybaldwin/crewforge/internal/store"
	storeinmem "github.com/anthonybaldwin/crewforge/internal/store/inmem"
	storemongo "github.com/anthonybaldwin/crewforge/internal/store/mongo"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

const (
	cliName    = "crewforge-demo"
	cliVersion = "0.1.0"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:     cliName,
		Short:   "crewforge multi-agent orchestration demo",
		Version: cliVersion,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a crewforge config.yaml")

	rootCmd.AddCommand(newRunCmd(&cfgFile))
	rootCmd.AddCommand(newServeCmd(&cfgFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd(cfgFile *string) *cobra.Command {
	var chatID, projectID, message string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch one orchestration run and print broadcast events until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			logger := telemetry.NewZapLogger(zap.NewNop())

			shutdownTelemetry, err := telemetry.InitProviders(cmd.Context(), cliName)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer shutdownTelemetry(context.Background())

			deps, err := buildDeps(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.closer()

			sub := deps.bus.Subscribe()
			defer sub.Close()
			go printEvents(sub)

			if err := deps.orch.RunOrchestration(cmd.Context(), orchestrator.RunRequest{
				ChatID: chatID, ProjectID: projectID, UserMessage: message,
				Credentials: defaultCredentials(cfg),
				CostLimit:   cfg.CostLimit,
			}); err != nil {
				return fmt.Errorf("run orchestration: %w", err)
			}

			for deps.orch.IsOrchestrationRunning(chatID) {
				time.Sleep(200 * time.Millisecond)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat-id", "demo-chat", "chat id this run belongs to")
	cmd.Flags().StringVar(&projectID, "project-id", "demo-project", "project id this run targets")
	cmd.Flags().StringVar(&message, "message", "", "the user's request")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run crash recovery, then block accepting no further work (engine workers keep running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			zlog, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer zlog.Sync()
			logger := telemetry.NewZapLogger(zlog)

			shutdownTelemetry, err := telemetry.InitProviders(cmd.Context(), cliName)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer shutdownTelemetry(context.Background())

			deps, err := buildDeps(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.closer()

			if err := deps.orch.RecoverOnBoot(cmd.Context()); err != nil {
				return fmt.Errorf("recover on boot: %w", err)
			}
			logger.Info(cmd.Context(), "crewforge-demo serving", "engine", cfg.Engine.Backend, "store", cfg.Store.Backend)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
}

// subscriber is satisfied by both *bus.Bus and *busredis.Bus, so run can
// print broadcast events regardless of which bus backend is configured.
type subscriber interface {
	Subscribe() *bus.Subscription
}

// deps is everything buildDeps wires together for a process lifetime.
type deps struct {
	orch   *orchestrator.Orchestrator
	bus    subscriber
	closer func()
}

func buildDeps(ctx context.Context, cfg config.Config, logger telemetry.Logger) (*deps, error) {
	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	budgetStore, closeBudget, err := buildBudgetStore(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, err
	}

	publisher, sub, closeBus := buildBus(cfg, logger)

	agents := agent.NewRegistry()
	if err := agents.LoadFile(cfg.Agents.ConfigFile); err != nil {
		closeBus()
		closeBudget()
		closeStore()
		return nil, fmt.Errorf("load agent configs: %w", err)
	}

	registry := providers.NewDefaultRegistry(logger)
	gw := gateway.New(registry, logger)
	ledger := budget.NewLedger(budgetStore, budget.DefaultCatalog())
	prompts := runner.FilePromptLoader{Dir: cfg.Agents.PromptsRoot}
	rnr := runner.New(agents, gw, ledger, publisher, prompts, logger)

	eng, closeEngine, err := buildEngine(cfg, logger)
	if err != nil {
		closeBus()
		closeBudget()
		closeStore()
		return nil, err
	}

	sandboxes := orchestrator.NewProjectSandboxes(cfg.Sandbox.Root, noopVersioner{}, publisher)
	exec := &scheduler.Executor{Agents: rnr, Store: st, Cost: ledger, Sandboxes: sandboxes}

	orch, err := orchestrator.New(ctx, orchestrator.Deps{
		Engine: eng, Executor: exec, Store: st, Bus: publisher, Agents: rnr,
		Files: orchestrator.FSProjectFiles{Root: cfg.Sandbox.Root}, FanOut: 3,
	})
	if err != nil {
		closeEngine()
		closeBus()
		closeBudget()
		closeStore()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &deps{
		orch: orch, bus: sub,
		closer: func() { closeEngine(); closeBus(); closeBudget(); closeStore() },
	}, nil
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "mongo":
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Store.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect store mongo: %w", err)
		}
		st, err := storemongo.NewStore(storemongo.Options{Client: client, Database: cfg.Store.Database, Timeout: cfg.Store.Timeout})
		if err != nil {
			return nil, nil, fmt.Errorf("build store/mongo: %w", err)
		}
		return st, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		return storeinmem.New(), func() {}, nil
	}
}

func buildBudgetStore(ctx context.Context, cfg config.Config) (budget.Store, func(), error) {
	switch cfg.Store.Backend {
	case "mongo":
		client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Store.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect budget mongo: %w", err)
		}
		bc, err := budgetmongo.New(budgetmongo.Options{Client: client, Database: cfg.Store.Database, Timeout: cfg.Store.Timeout})
		if err != nil {
			return nil, nil, fmt.Errorf("build budget/mongo client: %w", err)
		}
		bs, err := budgetmongo.NewStore(budgetmongo.StoreOptions{Client: bc})
		if err != nil {
			return nil, nil, fmt.Errorf("build budget/mongo store: %w", err)
		}
		return bs, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		return budgetinmem.New(), func() {}, nil
	}
}

func buildBus(cfg config.Config, logger telemetry.Logger) (bus.Publisher, subscriber, func()) {
	switch cfg.Bus.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Bus.Addr})
		rb := busredis.New(client, cfg.Bus.Channel, logger)
		return rb, rb, func() { rb.Close(); _ = client.Close() }
	default:
		b := bus.New()
		return b, b, func() {}
	}
}

func buildEngine(cfg config.Config, logger telemetry.Logger) (engine.Engine, func(), error) {
	switch cfg.Engine.Backend {
	case "temporal":
		clientOpts := temporalclient.Options{HostPort: cfg.Engine.Address, Namespace: cfg.Engine.Namespace}
		eng, err := enginetemporal.New(enginetemporal.Options{
			ClientOptions: &clientOpts,
			WorkerOptions: enginetemporal.WorkerOptions{TaskQueue: cfg.Engine.TaskQueue},
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build temporal engine: %w", err)
		}
		return eng, func() { _ = eng.Close() }, nil
	default:
		return engineinmem.New(), func() {}, nil
	}
}

func defaultCredentials(cfg config.Config) providers.Credentials {
	return providers.Credentials{
		APIKey:          cfg.Providers.AnthropicAPIKey,
		Region:          cfg.Providers.AWSRegion,
		AccessKeyID:     cfg.Providers.AWSAccessKey,
		SecretAccessKey: cfg.Providers.AWSSecretKey,
	}
}

func printEvents(sub *bus.Subscription) {
	for ev := range sub.Recv() {
		fmt.Printf("[%s] %+v\n", ev.Kind, ev)
	}
}

type noopVersioner struct{}

func (noopVersioner) SaveVersion(context.Context, string, string) error { return nil }
