package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"

	extism "github.com/extism/go-sdk"
	"github.com/ignitionstack/kvbridge/pkg/engine/interfaces"
	"github.com/ignitionstack/kvbridge/pkg/engine/resource"
	"github.com/ignitionstack/kvbridge/pkg/errors"
)

// ExtismRuntime implements interfaces.GuestRuntime using an Extism plugin
type ExtismRuntime struct {
	plugin *extism.Plugin
	info   interfaces.RuntimeInfo
}

// NewExtismRuntime wraps an already created plugin
func NewExtismRuntime(plugin *extism.Plugin, info interfaces.RuntimeInfo) *ExtismRuntime {
	return &ExtismRuntime{
		plugin: plugin,
		info:   info,
	}
}

// Call implements interfaces.GuestRuntime
func (r *ExtismRuntime) Call(ctx context.Context, entrypoint string, payload []byte) ([]byte, error) {
	code, output, err := r.plugin.CallWithContext(ctx, entrypoint, payload)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.DomainRuntime, errors.CodeDeadline,
				fmt.Sprintf("call to %s exceeded its deadline", entrypoint), err)
		}
		return nil, errors.Wrap(errors.DomainRuntime, errors.CodeModuleFailed,
			fmt.Sprintf("call to %s failed", entrypoint), err)
	}

	if code != 0 {
		return output, errors.New(errors.DomainRuntime, errors.CodeGuestExit,
			fmt.Sprintf("%s returned non-zero exit code: %d", entrypoint, code)).
			WithDetails(map[string]interface{}{"exit_code": code})
	}

	return output, nil
}

// Close implements interfaces.GuestRuntime
func (r *ExtismRuntime) Close(ctx context.Context) error {
	r.plugin.Close(ctx)
	return nil
}

// Info implements interfaces.GuestRuntime
func (r *ExtismRuntime) Info() interfaces.RuntimeInfo {
	return r.info
}

// ExtismRuntimeFactory creates plugins linked against the store host
// functions.
type ExtismRuntimeFactory struct {
	binder interfaces.HostBinder
	limits resource.Limits
	wasi   bool
}

// NewExtismRuntimeFactory creates a factory. wasi enables WASI imports for
// guests built against it.
func NewExtismRuntimeFactory(binder interfaces.HostBinder, limits resource.Limits, wasi bool) *ExtismRuntimeFactory {
	return &ExtismRuntimeFactory{binder: binder, limits: limits, wasi: wasi}
}

// CreateRuntime implements interfaces.RuntimeFactory
func (f *ExtismRuntimeFactory) CreateRuntime(ctx context.Context, wasmBytes []byte, config map[string]string) (interfaces.GuestRuntime, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: wasmBytes},
		},
		Config: config,
	}
	if pages := f.limits.MemoryPages(); pages > 0 {
		manifest.Memory = &extism.ManifestMemory{MaxPages: pages}
	}
	if f.limits.MaxExecutionTime > 0 {
		manifest.Timeout = uint64(f.limits.MaxExecutionTime.Milliseconds())
	}

	pluginConfig := extism.PluginConfig{
		EnableWasi: f.wasi,
	}

	plugin, err := extism.NewPlugin(ctx, manifest, pluginConfig, f.binder.HostFunctions(f.binder.Module()))
	if err != nil {
		return nil, errors.Wrap(errors.DomainRuntime, errors.CodeModuleFailed, "failed to create extism plugin", err)
	}

	return NewExtismRuntime(plugin, interfaces.RuntimeInfo{
		Size:       len(wasmBytes),
		Digest:     Digest(wasmBytes),
		HostModule: f.binder.Module(),
		Config:     config,
	}), nil
}

// Digest returns the hex sha256 of a module.
func Digest(wasmBytes []byte) string {
	sum := sha256.Sum256(wasmBytes)
	return "sha256:" + hex.EncodeToString(sum[:])
}
