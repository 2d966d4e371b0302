package kvs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ignitionstack/kvbridge/internal/repository"
	"github.com/ignitionstack/kvbridge/pkg/lattice"
)

// Backend persists encoded envelopes. Implementations need not be safe for
// concurrent use; the Engine serializes access.
type Backend interface {
	Load(key []byte) (t lattice.Type, payload []byte, found bool, err error)
	Store(key []byte, t lattice.Type, payload []byte) error
	Close() error
}

type storedValue struct {
	lattice lattice.Type
	payload []byte
}

// MemoryBackend keeps values in a map.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]storedValue
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]storedValue)}
}

func (m *MemoryBackend) Load(key []byte) (lattice.Type, []byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[string(key)]
	if !ok {
		return lattice.TypeNone, nil, false, nil
	}
	return v.lattice, append([]byte(nil), v.payload...), true, nil
}

func (m *MemoryBackend) Store(key []byte, t lattice.Type, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[string(key)] = storedValue{lattice: t, payload: append([]byte(nil), payload...)}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// keyPrefix namespaces store entries inside the badger keyspace.
var keyPrefix = []byte("kv/")

// BadgerBackend stores one record per key: a type byte followed by the
// encoded envelope.
type BadgerBackend struct {
	repo repository.DBRepository
}

// NewBadgerBackend wraps repo. Closing the backend does not close repo; the
// owner of the database closes it after every session using it is gone.
func NewBadgerBackend(repo repository.DBRepository) *BadgerBackend {
	return &BadgerBackend{repo: repo}
}

func badgerKey(key []byte) []byte {
	out := make([]byte, 0, len(keyPrefix)+len(key))
	out = append(out, keyPrefix...)
	return append(out, key...)
}

func (b *BadgerBackend) Load(key []byte) (lattice.Type, []byte, bool, error) {
	var record []byte
	err := b.repo.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		record, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return lattice.TypeNone, nil, false, nil
	}
	if err != nil {
		return lattice.TypeNone, nil, false, fmt.Errorf("failed to load key: %w", err)
	}
	if len(record) == 0 {
		return lattice.TypeNone, nil, false, fmt.Errorf("empty record for key %q", key)
	}

	return lattice.Type(record[0]), record[1:], true, nil
}

func (b *BadgerBackend) Store(key []byte, t lattice.Type, payload []byte) error {
	record := make([]byte, 0, len(payload)+1)
	record = append(record, byte(t))
	record = append(record, payload...)

	if err := b.repo.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), record)
	}); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Close() error { return nil }
