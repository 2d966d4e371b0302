package kv

import (
	"context"

	globalConfig "github.com/ignitionstack/kvbridge/internal/config"
	"github.com/ignitionstack/kvbridge/internal/di"
	"github.com/ignitionstack/kvbridge/pkg/store"
	"go.uber.org/fx"
)

// withAdapter opens a store session for the duration of fn. Separate kv
// invocations must see each other's writes, so the store is persistent
// unless --backend says otherwise.
func withAdapter(fn func(ctx context.Context, adapter *store.Adapter) error) error {
	cfg, err := globalConfig.LoadPersistent()
	if err != nil {
		return err
	}

	var adapter *store.Adapter
	app := di.NewApp(cfg, di.Module, fx.Populate(&adapter))
	if err := app.Err(); err != nil {
		return err
	}

	return di.Run(app, func(ctx context.Context) error {
		return fn(ctx, adapter)
	})
}
