package kvs

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
)

var (
	// ErrSessionsActive is returned when the network is closed while
	// remote clients are still attached to it.
	ErrSessionsActive = errors.New("kvs: network still has attached sessions")

	// ErrNetworkClosed is returned when the network is used after Close.
	ErrNetworkClosed = errors.New("kvs: network closed")
)

// Lane is one connection slot: a routing address plus a thread index.
type Lane struct {
	Addr  string
	Index int
}

func (l Lane) String() string {
	return fmt.Sprintf("%s#%d", l.Addr, l.Index)
}

// Route picks the lane a key is sent to, hashing it with FNV-1a over
// len(addrs)*threads lanes.
func Route(key []byte, addrs []string, threads int) Lane {
	if threads < 1 {
		threads = 1
	}
	h := fnv.New64a()
	_, _ = h.Write(key)
	idx := int(h.Sum64() % uint64(len(addrs)*threads))
	return Lane{Addr: addrs[idx/threads], Index: idx % threads}
}

// Network owns the connections to the routing tier. Connections are dialed
// lazily, one per lane, and shared by every attached client.
type Network struct {
	mu          sync.Mutex
	conns       map[Lane]*rpc.Client
	sessions    int
	closed      bool
	dialTimeout time.Duration
	logger      logging.Logger
}

// NewNetwork creates an empty connection pool.
func NewNetwork(dialTimeout time.Duration, logger logging.Logger) *Network {
	return &Network{
		conns:       make(map[Lane]*rpc.Client),
		dialTimeout: dialTimeout,
		logger:      logger,
	}
}

// attach registers a session.
func (n *Network) attach() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNetworkClosed
	}
	n.sessions++
	return nil
}

// detach unregisters a session.
func (n *Network) detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sessions > 0 {
		n.sessions--
	}
}

// Sessions returns the number of attached sessions.
func (n *Network) Sessions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions
}

// client returns the connection for lane, dialing it if needed.
func (n *Network) client(lane Lane) (*rpc.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, ErrNetworkClosed
	}
	if c, ok := n.conns[lane]; ok {
		return c, nil
	}

	conn, err := net.DialTimeout("tcp", lane.Addr, n.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", lane, err)
	}
	c := rpc.NewClient(conn)
	n.conns[lane] = c
	n.logger.Debugf("Connected lane %s", lane)
	return c, nil
}

// invalidate drops a broken connection so the next call redials.
func (n *Network) invalidate(lane Lane, c *rpc.Client) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if cur, ok := n.conns[lane]; ok && cur == c {
		delete(n.conns, lane)
		_ = c.Close()
		n.logger.Debugf("Dropped lane %s", lane)
	}
}

// Close closes every connection. It fails while sessions are attached, so
// sessions must be closed first.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	if n.sessions > 0 {
		return fmt.Errorf("%w: %d", ErrSessionsActive, n.sessions)
	}

	n.closed = true
	for lane, c := range n.conns {
		if err := c.Close(); err != nil && !errors.Is(err, rpc.ErrShutdown) {
			n.logger.Errorf("Closing lane %s failed: %v", lane, err)
		}
		delete(n.conns, lane)
	}
	return nil
}
