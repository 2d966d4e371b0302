package kvs

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/lattice"
)

// ErrClosed is returned by a client after Close.
var ErrClosed = errors.New("kvs: client closed")

const requestQueueSize = 64

// newID returns a fresh correlation id.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// responseQueue accumulates responses until the next Poll and signals
// readiness whenever something is appended.
type responseQueue struct {
	mu      sync.Mutex
	pending []Response
	ready   chan struct{}
}

func newResponseQueue() *responseQueue {
	return &responseQueue{ready: make(chan struct{}, 1)}
}

func (q *responseQueue) push(resp Response) {
	q.mu.Lock()
	q.pending = append(q.pending, resp)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *responseQueue) drain() []Response {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// LocalClient submits requests to an in-process Engine. A single worker
// goroutine applies them in submission order and queues the responses.
type LocalClient struct {
	engine   *Engine
	logger   logging.Logger
	requests chan Request
	queue    *responseQueue

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	ownEngine bool
}

// NewLocalClient starts a client over engine. When ownEngine is set, Close
// also closes the engine and its backend.
func NewLocalClient(engine *Engine, logger logging.Logger, ownEngine bool) *LocalClient {
	c := &LocalClient{
		engine:    engine,
		logger:    logger,
		requests:  make(chan Request, requestQueueSize),
		queue:     newResponseQueue(),
		done:      make(chan struct{}),
		ownEngine: ownEngine,
	}

	c.wg.Add(1)
	go c.run()

	return c
}

func (c *LocalClient) run() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.requests:
			c.queue.push(c.engine.Apply(req))
		case <-c.done:
			return
		}
	}
}

// SubmitPut queues a write and returns its correlation id.
func (c *LocalClient) SubmitPut(ctx context.Context, key, payload []byte, t lattice.Type) (string, error) {
	req := Request{
		ID:      newID(),
		Kind:    PutKind(t),
		Key:     append([]byte(nil), key...),
		Lattice: t,
		Payload: append([]byte(nil), payload...),
	}
	if err := c.submit(ctx, req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// SubmitGet queues a read. The response carries whatever envelope type is
// stored, which may differ from t.
func (c *LocalClient) SubmitGet(ctx context.Context, key []byte, t lattice.Type) error {
	kind := KindGetScalar
	if t == lattice.TypeSet {
		kind = KindGetSet
	}
	return c.submit(ctx, Request{
		ID:      newID(),
		Kind:    kind,
		Key:     append([]byte(nil), key...),
		Lattice: t,
	})
}

func (c *LocalClient) submit(ctx context.Context, req Request) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.requests <- req:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll returns every response produced since the previous call.
func (c *LocalClient) Poll() ([]Response, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	return c.queue.drain(), nil
}

// Ready is signalled after new responses were queued.
func (c *LocalClient) Ready() <-chan struct{} {
	return c.queue.ready
}

// Close stops the worker. Requests still queued are dropped.
func (c *LocalClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if c.ownEngine {
			err = c.engine.Close()
		}
		c.logger.Debugf("Local store session closed")
	})
	return err
}
