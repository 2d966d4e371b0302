package di

import (
	"context"
	"fmt"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/config"
	"go.uber.org/fx"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
)

// NewApp builds an fx application around cfg and module. Callers add their
// own fx.Populate or fx.Invoke options.
func NewApp(cfg *config.Config, module fx.Option, opts ...fx.Option) *fx.App {
	options := []fx.Option{
		fx.NopLogger,
		fx.Supply(cfg),
		module,
		fx.StartTimeout(startTimeout),
		fx.StopTimeout(stopTimeout),
	}
	return fx.New(append(options, opts...)...)
}

// Run starts app, runs fn and stops app again. A stop failure is reported
// only when fn succeeded.
func Run(app *fx.App, fn func(ctx context.Context) error) (err error) {
	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		if stopErr := app.Stop(stopCtx); stopErr != nil && err == nil {
			err = fmt.Errorf("error during shutdown: %w", stopErr)
		}
	}()

	return fn(context.Background())
}
