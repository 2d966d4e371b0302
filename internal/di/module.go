package di

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/ignitionstack/kvbridge/internal/repository"
	"github.com/ignitionstack/kvbridge/pkg/bridge"
	"github.com/ignitionstack/kvbridge/pkg/engine/config"
	"github.com/ignitionstack/kvbridge/pkg/engine/interfaces"
	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/engine/resource"
	"github.com/ignitionstack/kvbridge/pkg/engine/wasm"
	"github.com/ignitionstack/kvbridge/pkg/kvs"
	"github.com/ignitionstack/kvbridge/pkg/store"
	"go.uber.org/fx"
)

// Module wires a guest host: config -> logger and limits -> store session
// -> adapter -> bridge -> runtimes. OnStop hooks run in reverse registration order,
// so runtimes are torn down first, then the session, then the network or
// database the session used.
var Module = fx.Module("kvbridge",
	fx.Provide(
		NewLogger,
		NewLimits,
		NewCollaborator,
		NewAdapter,
		fx.Annotate(
			NewBridge,
			fx.As(fx.Self()),
			fx.As(new(interfaces.HostBinder)),
		),
		NewRunner,
		NewExtismFactory,
	),
)

// ServerModule wires `kvbridge serve`: a storage engine exposed over
// net/rpc for remote clients.
var ServerModule = fx.Module("kvbridge-server",
	fx.Provide(
		NewLogger,
		NewEngine,
		NewServer,
	),
)

// NewLogger builds the process logger from cfg.Log.
func NewLogger(lc fx.Lifecycle, cfg *config.Config) (logging.Logger, error) {
	logger, err := logging.NewZapLogger(cfg.Log.Level, os.Stderr)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// Syncing stderr fails on some terminals; nothing to recover.
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

// NewLimits reads the guest resource limits from cfg.
func NewLimits(cfg *config.Config) (resource.Limits, error) {
	return cfg.Limits()
}

// NewEngine opens the configured local backend. A badger database is
// closed by an OnStop hook registered before any session using it.
func NewEngine(lc fx.Lifecycle, cfg *config.Config, logger logging.Logger) (*kvs.Engine, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return kvs.NewEngine(kvs.NewMemoryBackend(), logger), nil

	case config.BackendBadger:
		repo, err := repository.OpenBadger(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				logger.Debugf("Closing store database")
				return repo.Close()
			},
		})
		return kvs.NewEngine(kvs.NewBadgerBackend(repo), logger), nil

	default:
		return nil, fmt.Errorf("store backend %q has no local engine", cfg.Store.Backend)
	}
}

// NewCollaborator opens the store session for the configured backend.
// The session itself is closed by the adapter that owns it.
func NewCollaborator(lc fx.Lifecycle, cfg *config.Config, logger logging.Logger) (store.Collaborator, error) {
	if cfg.Store.Backend != config.BackendRemote {
		engine, err := NewEngine(lc, cfg, logger)
		if err != nil {
			return nil, err
		}
		return kvs.NewLocalClient(engine, logger, true), nil
	}

	network := kvs.NewNetwork(cfg.Store.DialTimeout, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Debugf("Closing routing network")
			return network.Close()
		},
	})

	return kvs.NewRemoteClient(network, kvs.RemoteOptions{
		Addresses:        cfg.RoutingAddresses(),
		Threads:          cfg.Threads.Routing,
		Timeout:          cfg.Store.Timeout,
		BreakerThreshold: cfg.Store.Breaker.FailureThreshold,
		BreakerCooldown:  cfg.Store.Breaker.ResetTimeout,
	}, logger)
}

// NewAdapter wraps the session in the blocking adapter and closes it on
// stop.
func NewAdapter(lc fx.Lifecycle, collab store.Collaborator, cfg *config.Config, logger logging.Logger) *store.Adapter {
	adapter := store.New(collab, store.Options{
		Timeout:    cfg.Store.Timeout,
		Grace:      kvs.ExpiryLatency(cfg.Store.Timeout),
		MinBackoff: cfg.Store.Poll.MinBackoff,
		MaxBackoff: cfg.Store.Poll.MaxBackoff,
	}, logger)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Debugf("Closing store session")
			return adapter.Close()
		},
	})

	return adapter
}

// NewBridge creates the host functions over the adapter.
func NewBridge(lc fx.Lifecycle, adapter *store.Adapter, cfg *config.Config, logger logging.Logger) *bridge.Bridge {
	b := bridge.New(adapter, cfg.Bridge.Module, logger)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			b.Metrics().Report()
			return nil
		},
	})

	return b
}

// NewRunner creates the wazero runner with the bridge linked in.
func NewRunner(lc fx.Lifecycle, binder interfaces.HostBinder, limits resource.Limits, logger logging.Logger) (*wasm.Runner, error) {
	runner, err := wasm.NewRunner(context.Background(), binder, limits, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing guest runtime")
			return runner.Close(ctx)
		},
	})

	return runner, nil
}

// NewExtismFactory creates the plugin factory with the bridge linked in.
func NewExtismFactory(binder interfaces.HostBinder, limits resource.Limits) interfaces.RuntimeFactory {
	return wasm.NewExtismRuntimeFactory(binder, limits, true)
}

// NewServer serves the engine on cfg.Server.Listen while the app runs.
// The engine is closed after the server stops.
func NewServer(lc fx.Lifecycle, engine *kvs.Engine, cfg *config.Config, logger logging.Logger) (*kvs.Server, error) {
	srv, err := kvs.NewServer(engine, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			l, err := net.Listen("tcp", cfg.Server.Listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
			}
			go func() {
				if err := srv.Serve(l); err != nil {
					logger.Errorf("Store server stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if err := srv.Close(); err != nil {
				return err
			}
			return engine.Close()
		},
	})

	return srv, nil
}
