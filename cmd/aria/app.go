package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apache/incubator-ariatosca-sub004/config"
	"github.com/apache/incubator-ariatosca-sub004/events"
	"github.com/apache/incubator-ariatosca-sub004/execution"
	"github.com/apache/incubator-ariatosca-sub004/execution/executor"
	"github.com/apache/incubator-ariatosca-sub004/model"
	"github.com/apache/incubator-ariatosca-sub004/plugin"
	"github.com/apache/incubator-ariatosca-sub004/resource"
	"github.com/apache/incubator-ariatosca-sub004/storage"
	"github.com/apache/incubator-ariatosca-sub004/workflow"
)

// App wires the stores, plugin registry, workflow registry, and signal bus
// together for the CLI commands.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store     storage.Store
	Resource  resource.Store
	Plugins   *plugin.Registry
	Workflows *workflow.Registry
	Bus       *events.Bus

	natsConn     *nats.Conn
	watcher      *plugin.Watcher
	detachBridge func()
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.Config) (*App, error) {
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	app := &App{
		cfg:       cfg,
		logger:    logger,
		Plugins:   plugin.NewRegistry(),
		Workflows: workflow.NewRegistry(),
		Bus:       events.NewBus(logger),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := app.initStorage(ctx); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.initPlugins(); err != nil {
		app.Close()
		return nil, err
	}
	if app.natsConn != nil && cfg.NATS.BridgeSignals {
		app.detachBridge = events.AttachNATS(app.Bus, app.natsConn, cfg.NATS.SubjectPrefix, logger)
	}
	return app, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "nats":
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second))
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn

		js, err := jetstream.New(conn)
		if err != nil {
			return fmt.Errorf("create JetStream context: %w", err)
		}
		store, err := storage.NewKVStore(ctx, js)
		if err != nil {
			return fmt.Errorf("initialize model store: %w", err)
		}
		a.Store = store

		objStore, err := resource.NewObjectStore(ctx, js)
		if err != nil {
			return fmt.Errorf("initialize resource store: %w", err)
		}
		a.Resource = objStore

	default:
		a.Store = storage.NewMemoryStore()
		if a.cfg.Storage.ResourceDir != "" {
			fsStore, err := resource.NewFSStore(a.cfg.Storage.ResourceDir)
			if err != nil {
				return fmt.Errorf("initialize resource store: %w", err)
			}
			a.Resource = fsStore
		}
	}
	return nil
}

func (a *App) initPlugins() error {
	if a.cfg.Plugins.Dir == "" {
		return nil
	}
	watcher, err := plugin.NewWatcher(a.Plugins, plugin.WatcherConfig{
		Dir:           a.cfg.Plugins.Dir,
		DebounceDelay: a.cfg.Plugins.WatchDebounce,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("create plugin watcher: %w", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		return fmt.Errorf("start plugin watcher: %w", err)
	}
	a.watcher = watcher
	return nil
}

// RunWorkflow builds the task graph for the named workflow and drives it to
// a terminal state.
func (a *App) RunWorkflow(ctx context.Context, name, serviceInstanceID string, parameters map[string]any) error {
	fn, err := a.Workflows.Lookup(name)
	if err != nil {
		return err
	}
	if err := workflow.ValidateInputs(parameters); err != nil {
		return err
	}

	wctx := workflow.NewContext(name, a.Store, workflow.ContextOptions{
		ServiceInstanceID: serviceInstanceID,
		Parameters:        parameters,
		Resource:          a.Resource,
		Plugins:           a.Plugins,
		Logger:            a.logger,
		WorkDir:           a.cfg.Storage.WorkDir,
	})

	graph := workflow.NewTaskGraph(name)
	release := workflow.PushContext(wctx)
	err = fn(wctx, graph, parameters)
	release()
	if err != nil {
		return fmt.Errorf("build workflow %s: %w", name, err)
	}

	exec, err := a.newExecutor()
	if err != nil {
		return err
	}
	defer exec.Close()

	engine := execution.NewEngine(wctx, exec, graph,
		execution.WithBus(a.Bus),
		execution.WithMetrics(execution.NewMetrics(prometheus.DefaultRegisterer)),
		execution.WithLogger(a.logger))

	fmt.Printf("execution %s started (workflow %s)\n", wctx.ID, name)
	if err := engine.Execute(ctx); err != nil {
		return fmt.Errorf("execution %s failed: %w", wctx.ID, err)
	}

	final, err := a.Store.Executions().Get(ctx, wctx.ID)
	if err != nil {
		return fmt.Errorf("load execution record: %w", err)
	}
	fmt.Printf("execution %s %s\n", wctx.ID, final.Status)
	return nil
}

func (a *App) newExecutor() (execution.Executor, error) {
	switch a.cfg.Executor.Kind {
	case "subprocess":
		return executor.NewSubprocess(a.Plugins, executor.SubprocessConfig{
			Timeout:       a.cfg.Executor.TaskTimeout,
			MaxConcurrent: a.cfg.Executor.Workers,
			Logger:        a.logger,
		}), nil
	default:
		return executor.NewPool(a.Plugins, executor.PoolConfig{
			Size:   a.cfg.Executor.Workers,
			Logger: a.logger,
		}), nil
	}
}

// CancelExecution marks a stored execution cancelled. Executions running in
// another process observe the cancellation on their next store write.
func (a *App) CancelExecution(ctx context.Context, id string) error {
	return a.Store.InTransaction(ctx, func(tx storage.Store) error {
		execution, err := tx.Executions().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load execution: %w", err)
		}
		if execution.Status.IsTerminal() {
			return fmt.Errorf("execution %s already %s", id, execution.Status)
		}
		if err := execution.Transition(model.ExecutionCancelled); err != nil {
			return err
		}
		return tx.Executions().Update(ctx, execution)
	})
}

// Close releases every resource the app holds.
func (a *App) Close() {
	if a.detachBridge != nil {
		a.detachBridge()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
}
