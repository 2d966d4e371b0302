package kvs

import (
	"sync"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/lattice"
)

// ErrStorage is returned on the wire when the backend itself failed. It is
// outside the well-known code range, so clients surface it as unknown.
const ErrStorage ErrorCode = 100

// Engine applies requests to a Backend, merging writes with the stored
// envelope. Apply is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	backend Backend
	logger  logging.Logger
}

// NewEngine creates an Engine over backend.
func NewEngine(backend Backend, logger logging.Logger) *Engine {
	return &Engine{backend: backend, logger: logger}
}

// Apply executes req and returns its response.
func (e *Engine) Apply(req Request) Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch req.Kind {
	case KindPutScalar, KindPutSet:
		return e.put(req)
	case KindGetScalar, KindGetSet:
		return e.get(req)
	default:
		e.logger.Errorf("Rejecting request %s with unknown kind %d", req.ID, int(req.Kind))
		return failed(req, ErrLattice)
	}
}

// Close closes the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Close()
}

func (e *Engine) put(req Request) Response {
	if req.Lattice != req.Kind.Lattice() {
		return failed(req, ErrLattice)
	}

	incoming, err := lattice.Decode(req.Lattice, req.Payload)
	if err != nil {
		e.logger.Debugf("Rejecting undecodable %s payload for key %q: %v", req.Lattice, req.Key, err)
		return failed(req, ErrLattice)
	}

	t, payload, found, err := e.backend.Load(req.Key)
	if err != nil {
		e.logger.Errorf("Loading key %q failed: %v", req.Key, err)
		return failed(req, ErrStorage)
	}

	merged := incoming
	if found {
		existing, err := lattice.Decode(t, payload)
		if err != nil {
			e.logger.Errorf("Stored value for key %q is corrupt: %v", req.Key, err)
			return failed(req, ErrLattice)
		}
		merged, err = lattice.Merge(existing, incoming)
		if err != nil {
			e.logger.Debugf("Rejecting write to key %q: %v", req.Key, err)
			return failed(req, ErrLattice)
		}
	}

	encoded, err := lattice.Encode(merged)
	if err != nil {
		return failed(req, ErrLattice)
	}
	if err := e.backend.Store(req.Key, merged.Type(), encoded); err != nil {
		e.logger.Errorf("Storing key %q failed: %v", req.Key, err)
		return failed(req, ErrStorage)
	}

	return Response{ID: req.ID, Kind: req.Kind, Key: req.Key, Lattice: merged.Type()}
}

func (e *Engine) get(req Request) Response {
	t, payload, found, err := e.backend.Load(req.Key)
	if err != nil {
		e.logger.Errorf("Loading key %q failed: %v", req.Key, err)
		return failed(req, ErrStorage)
	}
	if !found {
		return failed(req, ErrKeyDNE)
	}

	return Response{
		ID:      req.ID,
		Kind:    req.Kind,
		Key:     req.Key,
		Lattice: t,
		Payload: payload,
	}
}
