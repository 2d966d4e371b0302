package interfaces

import (
	"context"

	extism "github.com/extism/go-sdk"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// GuestRuntime runs a loaded guest module.
// This allows us to abstract the underlying WebAssembly runtime (extism or bare wazero)
type GuestRuntime interface {
	// Call invokes an exported function with payload as plugin input
	Call(ctx context.Context, entrypoint string, payload []byte) ([]byte, error)

	// Close frees resources associated with this runtime instance
	Close(ctx context.Context) error

	// Info returns metadata about the runtime instance
	Info() RuntimeInfo
}

// RuntimeInfo contains metadata about a loaded guest module
type RuntimeInfo struct {
	// Size in bytes of the WebAssembly module
	Size int

	// Digest is the sha256 of the module bytes
	Digest string

	// HostModule is the import module the store functions are linked under
	HostModule string

	// Config values passed when loading the module
	Config map[string]string
}

// RuntimeFactory creates GuestRuntime instances
type RuntimeFactory interface {
	CreateRuntime(ctx context.Context, wasmBytes []byte, config map[string]string) (GuestRuntime, error)
}

// HostBinder links the store host functions into a runtime.
type HostBinder interface {
	// Module is the import module name guests use
	Module() string

	// Instantiate registers the host functions with a wazero runtime
	Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error)

	// HostFunctions returns the host functions for an extism plugin
	HostFunctions(namespace string) []extism.HostFunction
}
