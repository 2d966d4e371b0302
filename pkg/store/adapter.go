// Package store adapts an asynchronous, batched key-value collaborator into
// blocking put/get calls.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/errors"
	"github.com/ignitionstack/kvbridge/pkg/kvs"
	"github.com/ignitionstack/kvbridge/pkg/lattice"
)

// Collaborator is the asynchronous store session the adapter drives.
type Collaborator interface {
	// SubmitPut sends a write and returns its correlation id.
	SubmitPut(ctx context.Context, key, payload []byte, t lattice.Type) (string, error)
	// SubmitGet sends a read. t is the type the caller expects; the
	// response may carry another one.
	SubmitGet(ctx context.Context, key []byte, t lattice.Type) error
	// Poll returns pending responses without blocking. An error is terminal.
	Poll() ([]kvs.Response, error)
	// Ready is signalled when Poll may have something new.
	Ready() <-chan struct{}
	Close() error
}

// Options controls how long and how eagerly the adapter waits.
type Options struct {
	// Timeout is the session timeout a call waits for its response.
	Timeout time.Duration
	// Grace extends the wait past Timeout so a collaborator that answers
	// expired requests itself gets its TIMEOUT response consumed by the
	// call that caused it.
	Grace      time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultOptions matches the session timeout of the routing client.
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		Grace:      200 * time.Millisecond,
		MinBackoff: 100 * time.Microsecond,
		MaxBackoff: 10 * time.Millisecond,
	}
}

// Adapter serializes blocking calls over a Collaborator. At most one
// request is in flight at a time.
type Adapter struct {
	mu     sync.Mutex
	collab Collaborator
	clock  *lattice.Clock
	opts   Options
	logger logging.Logger
	closed bool

	// abandoned holds ids of puts that timed out. Their replies may still
	// arrive and are dropped.
	abandoned map[string]struct{}
}

// New creates an adapter that owns collab and closes it on Close.
func New(collab Collaborator, opts Options, logger logging.Logger) *Adapter {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	if opts.Grace < 0 {
		opts.Grace = 0
	}

	return &Adapter{
		collab:    collab,
		clock:     lattice.NewClock(),
		opts:      opts,
		logger:    logger,
		abandoned: make(map[string]struct{}),
	}
}

// Put stores value under key with a fresh timestamp.
func (a *Adapter) Put(ctx context.Context, key, value []byte) error {
	return a.put(ctx, key, func() lattice.Envelope {
		return lattice.LWW{Timestamp: a.clock.Next(), Value: value}
	})
}

// PutSet stores members under key, replacing any stored set.
func (a *Adapter) PutSet(ctx context.Context, key []byte, members []string) error {
	return a.put(ctx, key, func() lattice.Envelope {
		return lattice.NewSet(members)
	})
}

// Get returns the scalar stored under key. found is false when the key is
// absent or holds a set.
func (a *Adapter) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	env, found, err := a.get(ctx, key, lattice.TypeLWW)
	if err != nil || !found {
		return nil, false, err
	}
	return env.(lattice.LWW).Value, true, nil
}

// GetSet returns the set stored under key. found is false when the key is
// absent or holds a scalar.
func (a *Adapter) GetSet(ctx context.Context, key []byte) (members []string, found bool, err error) {
	env, found, err := a.get(ctx, key, lattice.TypeSet)
	if err != nil || !found {
		return nil, false, err
	}
	return env.(lattice.Set).Members, true, nil
}

// Close releases the collaborator. It waits for an in-flight call and is
// safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.collab.Close()
}

func (a *Adapter) put(ctx context.Context, key []byte, build func() lattice.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New(errors.DomainStore, errors.CodeClosed, "adapter closed").WithKey(key)
	}

	env := build()
	payload, err := lattice.Encode(env)
	if err != nil {
		return newError(LatticeError, key, "failed to encode value").WithCause(err)
	}

	if err := a.discardStale(key); err != nil {
		return err
	}

	id, err := a.collab.SubmitPut(ctx, key, payload, env.Type())
	if err != nil {
		return submitError(key, err)
	}

	batch, err := a.await(ctx, key)
	if err != nil {
		if KindOf(err) == Timeout {
			a.abandoned[id] = struct{}{}
		}
		return err
	}

	if len(batch) > 1 {
		a.logger.Debugf("Discarding %d extra responses received with put for key %q", len(batch)-1, key)
	}

	first := batch[0]
	if first.ID != id {
		a.abandoned[id] = struct{}{}
		return newError(InvalidResponse, key, "response does not match the submitted request").
			WithDetails(map[string]interface{}{"expected": id, "received": first.ID})
	}
	if first.Error != kvs.NoError {
		return wireError(key, first.Error)
	}
	return nil
}

func (a *Adapter) get(ctx context.Context, key []byte, want lattice.Type) (lattice.Envelope, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, false, errors.New(errors.DomainStore, errors.CodeClosed, "adapter closed").WithKey(key)
	}

	if err := a.discardStale(key); err != nil {
		return nil, false, err
	}

	if err := a.collab.SubmitGet(ctx, key, want); err != nil {
		return nil, false, submitError(key, err)
	}

	batch, err := a.await(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(batch) != 1 {
		return nil, false, newError(InvalidResponse, key, fmt.Sprintf("expected one response, got %d", len(batch)))
	}

	resp := batch[0]
	if resp.Kind.IsPut() {
		return nil, false, newError(InvalidResponse, key, fmt.Sprintf("received a %s response to a get", resp.Kind))
	}
	switch resp.Error {
	case kvs.NoError:
	case kvs.ErrKeyDNE:
		return nil, false, nil
	default:
		return nil, false, wireError(key, resp.Error)
	}

	if resp.Lattice != want {
		a.logger.Debugf("Key %q holds a %s, not a %s", key, resp.Lattice, want)
		return nil, false, nil
	}

	env, err := lattice.Decode(want, resp.Payload)
	if err != nil {
		return nil, false, newError(LatticeError, key, "failed to decode value").WithCause(err)
	}
	return env, true, nil
}

// discardStale drops responses queued before the next submission. Calls
// are serialized, so anything already queued belongs to an earlier call
// that gave up on it.
func (a *Adapter) discardStale(key []byte) error {
	batch, err := a.collab.Poll()
	if err != nil {
		return submitError(key, err)
	}
	for _, resp := range batch {
		delete(a.abandoned, resp.ID)
		a.logger.Debugf("Discarding stale %s response %s for key %q", resp.Kind, resp.ID, resp.Key)
	}
	return nil
}

// dropAbandoned removes replies to puts that already timed out.
func (a *Adapter) dropAbandoned(batch []kvs.Response) []kvs.Response {
	if len(a.abandoned) == 0 {
		return batch
	}
	kept := batch[:0]
	for _, resp := range batch {
		if _, ok := a.abandoned[resp.ID]; ok {
			delete(a.abandoned, resp.ID)
			a.logger.Debugf("Discarding late response %s for key %q", resp.ID, resp.Key)
			continue
		}
		kept = append(kept, resp)
	}
	return kept
}

// await polls until a non-empty batch arrives. Between empty polls it
// sleeps on the readiness channel or an exponential backoff, whichever
// fires first, until the deadline.
func (a *Adapter) await(ctx context.Context, key []byte) ([]kvs.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout+a.opts.Grace)
	defer cancel()

	backoff := a.opts.MinBackoff
	for {
		batch, err := a.collab.Poll()
		if err != nil {
			return nil, submitError(key, err)
		}
		if batch = a.dropAbandoned(batch); len(batch) > 0 {
			return batch, nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-a.collab.Ready():
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, newError(Timeout, key, "no response before the deadline").WithCause(ctx.Err())
		}
		timer.Stop()

		if backoff *= 2; backoff > a.opts.MaxBackoff {
			backoff = a.opts.MaxBackoff
		}
	}
}
