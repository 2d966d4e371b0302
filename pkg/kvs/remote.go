package kvs

import (
	"context"
	"errors"
	"net/rpc"
	"sync"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/lattice"
)

// applyMethod is the RPC method served by Server.
const applyMethod = "Store.Apply"

// RemoteOptions configures a RemoteClient.
type RemoteOptions struct {
	// Addresses of the routing tier. At least one is required.
	Addresses []string
	// Threads is the number of lanes per address.
	Threads int
	// Timeout after which an unanswered request gets a TIMEOUT response.
	Timeout time.Duration
	// BreakerThreshold consecutive transport failures open the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type inflight struct {
	req      Request
	lane     Lane
	conn     *rpc.Client
	deadline time.Time
}

// RemoteClient submits requests to the routing tier over net/rpc. Replies
// arrive on a shared completion channel and are queued for Poll; requests
// unanswered after Timeout are answered locally with ErrTimeout.
type RemoteClient struct {
	network *Network
	opts    RemoteOptions
	logger  logging.Logger
	breaker *Breaker
	queue   *responseQueue

	mu      sync.Mutex
	pending map[string]inflight

	calls     chan *rpc.Call
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRemoteClient attaches a new session to network.
func NewRemoteClient(network *Network, opts RemoteOptions, logger logging.Logger) (*RemoteClient, error) {
	if len(opts.Addresses) == 0 {
		return nil, errors.New("kvs: remote client needs at least one routing address")
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if err := network.attach(); err != nil {
		return nil, err
	}

	c := &RemoteClient{
		network: network,
		opts:    opts,
		logger:  logger,
		breaker: NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		queue:   newResponseQueue(),
		pending: make(map[string]inflight),
		calls:   make(chan *rpc.Call, 256),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.collect()

	return c, nil
}

// SubmitPut sends a write and returns its correlation id.
func (c *RemoteClient) SubmitPut(ctx context.Context, key, payload []byte, t lattice.Type) (string, error) {
	req := Request{
		ID:      newID(),
		Kind:    PutKind(t),
		Key:     append([]byte(nil), key...),
		Lattice: t,
		Payload: append([]byte(nil), payload...),
	}
	if err := c.send(ctx, req); err != nil {
		return "", err
	}
	return req.ID, nil
}

// SubmitGet sends a read.
func (c *RemoteClient) SubmitGet(ctx context.Context, key []byte, t lattice.Type) error {
	kind := KindGetScalar
	if t == lattice.TypeSet {
		kind = KindGetSet
	}
	return c.send(ctx, Request{
		ID:      newID(),
		Kind:    kind,
		Key:     append([]byte(nil), key...),
		Lattice: t,
	})
}

func (c *RemoteClient) send(ctx context.Context, req Request) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !c.breaker.Allow() {
		c.queue.push(failed(req, ErrNoServers))
		return nil
	}

	lane := Route(req.Key, c.opts.Addresses, c.opts.Threads)
	conn, err := c.network.client(lane)
	if err != nil {
		if errors.Is(err, ErrNetworkClosed) {
			return err
		}
		c.logger.Errorf("Routing %s for key %q failed: %v", req.Kind, req.Key, err)
		c.breaker.Failure()
		c.queue.push(failed(req, ErrNoServers))
		return nil
	}

	c.mu.Lock()
	c.pending[req.ID] = inflight{
		req:      req,
		lane:     lane,
		conn:     conn,
		deadline: time.Now().Add(c.opts.Timeout),
	}
	c.mu.Unlock()

	conn.Go(applyMethod, req, &Response{}, c.calls)
	return nil
}

func (c *RemoteClient) collect() {
	defer c.wg.Done()

	ticker := time.NewTicker(sweepInterval(c.opts.Timeout))
	defer ticker.Stop()

	for {
		select {
		case call := <-c.calls:
			c.complete(call)
		case now := <-ticker.C:
			c.expire(now)
		case <-c.done:
			return
		}
	}
}

// ExpiryLatency bounds how long after Timeout a RemoteClient may take to
// queue the TIMEOUT response for an unanswered request.
func ExpiryLatency(timeout time.Duration) time.Duration {
	return 2 * sweepInterval(timeout)
}

func sweepInterval(timeout time.Duration) time.Duration {
	d := timeout / 10
	if d < 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	if d > 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}

func (c *RemoteClient) complete(call *rpc.Call) {
	req := call.Args.(Request)

	c.mu.Lock()
	entry, ok := c.pending[req.ID]
	delete(c.pending, req.ID)
	c.mu.Unlock()

	if !ok {
		c.logger.Debugf("Dropping late reply for request %s", req.ID)
		return
	}

	if call.Error != nil {
		c.logger.Errorf("Request %s to lane %s failed: %v", req.ID, entry.lane, call.Error)
		if errors.Is(call.Error, rpc.ErrShutdown) {
			c.network.invalidate(entry.lane, entry.conn)
		}
		if c.breaker.Failure() {
			c.logger.Printf("Routing tier unreachable, breaker is %s", c.breaker.State())
		}
		c.queue.push(failed(req, ErrNoServers))
		return
	}

	c.breaker.Success()
	c.queue.push(*call.Reply.(*Response))
}

func (c *RemoteClient) expire(now time.Time) {
	var expired []Request

	c.mu.Lock()
	for id, entry := range c.pending {
		if now.After(entry.deadline) {
			expired = append(expired, entry.req)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		c.logger.Debugf("Request %s for key %q timed out", req.ID, req.Key)
		c.breaker.Failure()
		c.queue.push(failed(req, ErrTimeout))
	}
}

// Poll returns every response received since the previous call.
func (c *RemoteClient) Poll() ([]Response, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	return c.queue.drain(), nil
}

// Ready is signalled after new responses were queued.
func (c *RemoteClient) Ready() <-chan struct{} {
	return c.queue.ready
}

// Close detaches the session from the network. Outstanding requests are
// abandoned; their replies are discarded by net/rpc.
func (c *RemoteClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.network.detach()
		c.logger.Debugf("Remote store session closed")
	})
	return nil
}
