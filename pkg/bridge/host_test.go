package bridge

import (
	"context"
	"testing"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/kvs"
	"github.com/ignitionstack/kvbridge/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// guestWasm imports env.put and env.get, exports one page of memory, and
// re-exports both imports as put and get so tests can drive them.
var guestWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32 i32 i32 i32) -> i32
	0x01, 0x09, 0x01, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f,
	// import: env.put, env.get
	0x02, 0x15, 0x02,
	0x03, 'e', 'n', 'v', 0x03, 'p', 'u', 't', 0x00, 0x00,
	0x03, 'e', 'n', 'v', 0x03, 'g', 'e', 't', 0x00, 0x00,
	// function: two bodies of type 0
	0x03, 0x03, 0x02, 0x00, 0x00,
	// memory: min 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export: memory, put, get
	0x07, 0x16, 0x03,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x03, 'p', 'u', 't', 0x00, 0x02,
	0x03, 'g', 'e', 't', 0x00, 0x03,
	// code: forward all four params to the import
	0x0a, 0x1b, 0x02,
	0x0c, 0x00, 0x20, 0x00, 0x20, 0x01, 0x20, 0x02, 0x20, 0x03, 0x10, 0x00, 0x0b,
	0x0c, 0x00, 0x20, 0x00, 0x20, 0x01, 0x20, 0x02, 0x20, 0x03, 0x10, 0x01, 0x0b,
}

func instantiateGuest(t *testing.T) (api.Module, *Bridge) {
	t.Helper()
	ctx := context.Background()
	logger := logging.NewNopLogger()

	adapter := store.New(
		kvs.NewLocalClient(kvs.NewEngine(kvs.NewMemoryBackend(), logger), logger, true),
		store.DefaultOptions(),
		logger,
	)
	t.Cleanup(func() { assert.NoError(t, adapter.Close()) })

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { assert.NoError(t, r.Close(ctx)) })

	b := New(adapter, "", logger)
	_, err := b.Instantiate(ctx, r)
	require.NoError(t, err)

	mod, err := r.Instantiate(ctx, guestWasm)
	require.NoError(t, err)
	return mod, b
}

func call(t *testing.T, mod api.Module, name string, args ...int32) (int32, error) {
	t.Helper()
	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = api.EncodeI32(a)
	}
	results, err := mod.ExportedFunction(name).Call(context.Background(), params...)
	if err != nil {
		return 0, err
	}
	return api.DecodeI32(results[0]), nil
}

func TestWazeroGuestRoundTrip(t *testing.T) {
	mod, b := instantiateGuest(t)
	mem := mod.Memory()

	require.True(t, mem.Write(0, []byte("a")))
	require.True(t, mem.Write(16, []byte("foo")))

	ok, err := call(t, mod, "put", 1, 0, 3, 16)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ok)

	// Ask with a buffer that is too small: size only, no write.
	size, err := call(t, mod, "get", 1, 0, 2, 200)
	require.NoError(t, err)
	assert.Equal(t, int32(3), size)
	untouched, _ := mem.Read(200, 3)
	assert.Equal(t, []byte{0, 0, 0}, untouched)

	size, err = call(t, mod, "get", 1, 0, size, 200)
	require.NoError(t, err)
	assert.Equal(t, int32(3), size)
	got, _ := mem.Read(200, 3)
	assert.Equal(t, []byte("foo"), got)

	require.True(t, mem.Write(0, []byte("z")))
	size, err = call(t, mod, "get", 1, 0, 8, 300)
	require.NoError(t, err)
	assert.Equal(t, int32(0), size)

	stats := b.Metrics().Snapshot()
	assert.Equal(t, int64(1), stats["put"].Successes)
	assert.Equal(t, int64(3), stats["get"].Calls)
}

func TestWazeroGuestTraps(t *testing.T) {
	mod, _ := instantiateGuest(t)
	mem := mod.Memory()
	require.True(t, mem.Write(0, []byte("a")))
	size := int32(mem.Size())

	tail, _ := mem.Read(uint32(size-4), 4)
	before := append([]byte(nil), tail...)

	_, err := call(t, mod, "get", 1, 0, 8, size-4)
	require.Error(t, err)
	assert.ErrorContains(t, err, "memory_fault")

	after, _ := mem.Read(uint32(size-4), 4)
	assert.Equal(t, before, after)

	_, err = call(t, mod, "put", 1, size, 1, 0)
	require.Error(t, err)
	assert.ErrorContains(t, err, "memory_fault")

	_, err = call(t, mod, "put", -5, 0, 1, 0)
	assert.ErrorContains(t, err, "memory_fault")
}

func TestHostFunctions(t *testing.T) {
	b := New(newMapStore(), "kv", logging.NewNopLogger())

	fns := b.HostFunctions("")
	require.Len(t, fns, 2)
	assert.Equal(t, "put", fns[0].Name)
	assert.Equal(t, "get", fns[1].Name)
	assert.Equal(t, "kv", fns[0].Namespace)
	assert.Equal(t, "env", b.HostFunctions("env")[1].Namespace)
}
