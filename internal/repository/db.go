package repository

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

type DBRepository interface {
	View(fn func(txn *badger.Txn) error) error
	Update(fn func(txn *badger.Txn) error) error
	Close() error
}

type BadgerDBRepository struct {
	db *badger.DB
}

func NewBadgerDBRepository(db *badger.DB) DBRepository {
	return &BadgerDBRepository{db: db}
}

// OpenBadger opens the database under dir. An empty dir opens an in-memory
// database, which is what tests and the throwaway CLI mode use.
func OpenBadger(dir string) (DBRepository, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	return NewBadgerDBRepository(db), nil
}

func (r *BadgerDBRepository) View(fn func(txn *badger.Txn) error) error {
	return r.db.View(fn)
}

func (r *BadgerDBRepository) Update(fn func(txn *badger.Txn) error) error {
	return r.db.Update(fn)
}

func (r *BadgerDBRepository) Close() error {
	return r.db.Close()
}
