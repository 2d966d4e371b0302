package bridge

import (
	"context"

	extism "github.com/extism/go-sdk"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var (
	hostParams  = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}
	hostResults = []api.ValueType{api.ValueTypeI32}
)

type hostCall func(ctx context.Context, mem Memory, a, b, c, d int32) (int32, error)

// invoke decodes the four i32 arguments, runs call and stores its result.
// A memory fault panics, which the VM turns into a trap for the guest.
func invoke(ctx context.Context, mem Memory, stack []uint64, call hostCall) {
	result, err := call(ctx, mem,
		api.DecodeI32(stack[0]),
		api.DecodeI32(stack[1]),
		api.DecodeI32(stack[2]),
		api.DecodeI32(stack[3]),
	)
	if err != nil {
		panic(err)
	}
	stack[0] = api.EncodeI32(result)
}

func moduleMemory(mod api.Module) Memory {
	if mem := mod.Memory(); mem != nil {
		return mem
	}
	return nil
}

// Instantiate registers put and get as a wazero host module named after
// the bridge's module name. Guests must be instantiated afterwards.
func (b *Bridge) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(b.module)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			invoke(ctx, moduleMemory(mod), stack, b.Put)
		}), hostParams, hostResults).
		WithParameterNames("key_len", "key_off", "val_len", "val_off").
		WithResultNames("ok").
		Export("put")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			invoke(ctx, moduleMemory(mod), stack, b.Get)
		}), hostParams, hostResults).
		WithParameterNames("key_len", "key_off", "buf_cap", "buf_off").
		WithResultNames("val_size").
		Export("get")

	return builder.Instantiate(ctx)
}

// HostFunctions returns put and get as extism host functions in namespace.
// An empty namespace means the bridge's module name.
func (b *Bridge) HostFunctions(namespace string) []extism.HostFunction {
	if namespace == "" {
		namespace = b.module
	}

	put := extism.NewHostFunctionWithStack("put",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			invoke(ctx, pluginMemory(p), stack, b.Put)
		}, hostParams, hostResults)
	put.SetNamespace(namespace)

	get := extism.NewHostFunctionWithStack("get",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			invoke(ctx, pluginMemory(p), stack, b.Get)
		}, hostParams, hostResults)
	get.SetNamespace(namespace)

	return []extism.HostFunction{put, get}
}

func pluginMemory(p *extism.CurrentPlugin) Memory {
	if p == nil {
		return nil
	}
	if mem := p.Memory(); mem != nil {
		return mem
	}
	return nil
}
