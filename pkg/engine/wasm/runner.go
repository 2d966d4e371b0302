// Package wasm hosts guest modules that use the store host functions,
// either as WASI commands on wazero or as Extism plugins.
package wasm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/ignitionstack/kvbridge/pkg/engine/interfaces"
	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/engine/resource"
	"github.com/ignitionstack/kvbridge/pkg/errors"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// RunOptions configures one guest run.
type RunOptions struct {
	Args   []string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes WASI command modules on a wazero runtime that has the
// store host module linked in.
type Runner struct {
	runtime   wazero.Runtime
	limits    resource.Limits
	logger    logging.Logger
	closeOnce sync.Once
}

// NewRunner creates the runtime and links WASI and the binder's host
// module into it. Guests are bounded by limits.
func NewRunner(ctx context.Context, binder interfaces.HostBinder, limits resource.Limits, logger logging.Logger) (*Runner, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if pages := limits.MemoryPages(); pages > 0 {
		rc = rc.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.DomainRuntime, errors.CodeModuleFailed, "failed to instantiate WASI", err)
	}
	if _, err := binder.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.DomainRuntime, errors.CodeModuleFailed,
			fmt.Sprintf("failed to instantiate host module %q", binder.Module()), err)
	}

	return &Runner{runtime: r, limits: limits, logger: logger}, nil
}

// Run instantiates wasmBytes and runs its _start function to completion.
// A guest exiting with status 0 is a success.
func (r *Runner) Run(ctx context.Context, wasmBytes []byte, opts RunOptions) error {
	ctx, cancel := r.limits.WithDeadline(ctx)
	defer cancel()

	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return errors.Wrap(errors.DomainRuntime, errors.CodeModuleFailed, "failed to compile module", err)
	}
	defer compiled.Close(ctx)

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_start").
		WithArgs(append([]string{"guest"}, opts.Args...)...).
		WithSysWalltime().
		WithSysNanotime()
	for k, v := range opts.Env {
		cfg = cfg.WithEnv(k, v)
	}
	if opts.Stdin != nil {
		cfg = cfg.WithStdin(opts.Stdin)
	}
	if opts.Stdout != nil {
		cfg = cfg.WithStdout(opts.Stdout)
	}
	if opts.Stderr != nil {
		cfg = cfg.WithStderr(opts.Stderr)
	}

	r.logger.Debugf("Running module %s (%d bytes, %s)", Digest(wasmBytes), len(wasmBytes), r.limits)

	mod, err := r.runtime.InstantiateModule(ctx, compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if stderrors.As(err, &exitErr) {
			switch exitErr.ExitCode() {
			case 0:
				return nil
			case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
				return errors.Wrap(errors.DomainRuntime, errors.CodeDeadline, "guest stopped before finishing", err)
			}
			return errors.Wrap(errors.DomainRuntime, errors.CodeGuestExit,
				fmt.Sprintf("guest exited with code %d", exitErr.ExitCode()), err).
				WithDetails(map[string]interface{}{"exit_code": exitErr.ExitCode()})
		}
		return errors.Wrap(errors.DomainRuntime, errors.CodeModuleFailed, "guest failed", err)
	}

	return nil
}

// Close releases the runtime and every module in it.
func (r *Runner) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		err = r.runtime.Close(ctx)
	})
	return err
}
