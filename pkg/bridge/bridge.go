// Package bridge exposes a key-value store to WebAssembly guests through
// two integer-only host functions:
//
//	put(key_len, key_off, val_len, val_off) -> ok
//	get(key_len, key_off, buf_cap, buf_off) -> val_size
//
// get reports sizes in two phases: it always returns the value's size, and
// copies the value into the guest buffer only when it fits.
package bridge

import (
	"context"
	"math"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/store"
)

// DefaultModule is the import module name guests link put and get from.
const DefaultModule = "env"

// Store is the blocking store the bridge forwards to.
type Store interface {
	Put(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
}

// Bridge translates guest calls into Store calls. Store failures reach the
// guest as 0; out-of-bounds memory access is returned as an error, which
// the host wrappers raise as a trap.
type Bridge struct {
	store   Store
	logger  logging.Logger
	metrics *Metrics
	module  string
}

// New creates a bridge over s. An empty module name means DefaultModule.
func New(s Store, module string, logger logging.Logger) *Bridge {
	if module == "" {
		module = DefaultModule
	}
	return &Bridge{
		store:   s,
		logger:  logger,
		metrics: NewMetrics(logger),
		module:  module,
	}
}

// Module returns the import module name.
func (b *Bridge) Module() string {
	return b.module
}

// Metrics returns the call metrics.
func (b *Bridge) Metrics() *Metrics {
	return b.metrics
}

// Put stores the guest's value under the guest's key and returns 1, or 0
// if the store failed.
func (b *Bridge) Put(ctx context.Context, mem Memory, keyLen, keyOff, valLen, valOff int32) (int32, error) {
	start := time.Now()

	gm, err := NewGuestMemory(mem)
	if err != nil {
		b.metrics.record("put", outcomeFault, time.Since(start))
		return 0, err
	}

	key, err := gm.Read(Range{Offset: keyOff, Length: keyLen})
	if err != nil {
		b.metrics.record("put", outcomeFault, time.Since(start))
		return 0, err
	}
	value, err := gm.Read(Range{Offset: valOff, Length: valLen})
	if err != nil {
		b.metrics.record("put", outcomeFault, time.Since(start))
		return 0, err
	}

	if err := b.store.Put(ctx, key, value); err != nil {
		b.logger.Errorf("put %q failed (%s): %v", key, store.KindOf(err), err)
		b.metrics.record("put", outcomeStoreFailure, time.Since(start))
		return 0, nil
	}

	b.metrics.record("put", outcomeOK, time.Since(start))
	return 1, nil
}

// Get looks up the guest's key and returns the value size, or 0 if the key
// is absent or the store failed. The value is written at bufOff only when
// it fits in bufCap bytes.
func (b *Bridge) Get(ctx context.Context, mem Memory, keyLen, keyOff, bufCap, bufOff int32) (int32, error) {
	start := time.Now()

	gm, err := NewGuestMemory(mem)
	if err != nil {
		b.metrics.record("get", outcomeFault, time.Since(start))
		return 0, err
	}

	key, err := gm.Read(Range{Offset: keyOff, Length: keyLen})
	if err != nil {
		b.metrics.record("get", outcomeFault, time.Since(start))
		return 0, err
	}
	// The whole declared buffer must be valid even if nothing is written.
	if err := gm.Check(Range{Offset: bufOff, Length: bufCap}); err != nil {
		b.metrics.record("get", outcomeFault, time.Since(start))
		return 0, err
	}

	value, found, err := b.store.Get(ctx, key)
	if err != nil {
		b.logger.Errorf("get %q failed (%s): %v", key, store.KindOf(err), err)
		b.metrics.record("get", outcomeStoreFailure, time.Since(start))
		return 0, nil
	}
	if !found {
		b.metrics.record("get", outcomeOK, time.Since(start))
		return 0, nil
	}

	size, ok := valueSize(int64(len(value)))
	if !ok {
		b.logger.Errorf("get %q failed: value of %d bytes cannot be reported to a guest", key, len(value))
		b.metrics.record("get", outcomeStoreFailure, time.Since(start))
		return 0, nil
	}
	if size <= bufCap {
		if err := gm.Write(bufOff, value); err != nil {
			b.metrics.record("get", outcomeFault, time.Since(start))
			return 0, err
		}
	} else {
		b.logger.Debugf("get %q: value of %d bytes does not fit buffer of %d", key, size, bufCap)
	}

	b.metrics.record("get", outcomeOK, time.Since(start))
	return size, nil
}

// valueSize converts a value length to the i32 get returns. Lengths past
// math.MaxInt32 have no representation.
func valueSize(n int64) (int32, bool) {
	if n < 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int32(n), true
}
