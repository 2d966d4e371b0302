package store

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ignitionstack/kvbridge/pkg/engine/logging"
	"github.com/ignitionstack/kvbridge/pkg/errors"
	"github.com/ignitionstack/kvbridge/pkg/kvs"
	"github.com/ignitionstack/kvbridge/pkg/lattice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCollaborator answers each submission with the batch produced by
// respond, delivered on the next Poll.
type scriptedCollaborator struct {
	mu      sync.Mutex
	respond func(req kvs.Request) []kvs.Response
	pending []kvs.Response
	submits []kvs.Request
	ready   chan struct{}
	closed  int
	nextID  int
}

func newScripted(respond func(req kvs.Request) []kvs.Response) *scriptedCollaborator {
	return &scriptedCollaborator{respond: respond, ready: make(chan struct{}, 1)}
}

func (s *scriptedCollaborator) submit(req kvs.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, req)
	s.pending = append(s.pending, s.respond(req)...)
}

func (s *scriptedCollaborator) SubmitPut(_ context.Context, key, payload []byte, t lattice.Type) (string, error) {
	s.mu.Lock()
	s.nextID++
	id := string(rune('a' + s.nextID))
	s.mu.Unlock()

	s.submit(kvs.Request{ID: id, Kind: kvs.PutKind(t), Key: key, Lattice: t, Payload: payload})
	return id, nil
}

func (s *scriptedCollaborator) SubmitGet(_ context.Context, key []byte, t lattice.Type) error {
	s.submit(kvs.Request{ID: "get", Kind: kvs.KindGetScalar, Key: key, Lattice: t})
	return nil
}

func (s *scriptedCollaborator) Poll() ([]kvs.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out, nil
}

func (s *scriptedCollaborator) Ready() <-chan struct{} { return s.ready }

func (s *scriptedCollaborator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func lww(t *testing.T, value string) []byte {
	t.Helper()
	b, err := lattice.Encode(lattice.LWW{Timestamp: 1, Value: []byte(value)})
	require.NoError(t, err)
	return b
}

func testOptions() Options {
	return Options{Timeout: 200 * time.Millisecond, MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func newLocalAdapter(t *testing.T) *Adapter {
	t.Helper()
	logger := logging.NewNopLogger()
	engine := kvs.NewEngine(kvs.NewMemoryBackend(), logger)
	a := New(kvs.NewLocalClient(engine, logger, true), testOptions(), logger)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func TestAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newLocalAdapter(t)

	require.NoError(t, a.Put(ctx, []byte("a"), []byte("foo")))
	v, found, err := a.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("foo"), v)

	require.NoError(t, a.Put(ctx, []byte("a"), []byte("bar")))
	v, _, err = a.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), v, "later put overwrites")

	v, found, err = a.Get(ctx, []byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)
}

func TestAdapterSetScenario(t *testing.T) {
	ctx := context.Background()
	a := newLocalAdapter(t)

	require.NoError(t, a.Put(ctx, []byte("a"), []byte("foo")))
	require.NoError(t, a.PutSet(ctx, []byte("set"), []string{"1", "2", "3"}))
	require.NoError(t, a.PutSet(ctx, []byte("set"), []string{"1", "2", "4"}))

	members, found, err := a.GetSet(ctx, []byte("set"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"1", "2", "4"}, members)

	v, found, err := a.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("foo"), v)
}

func TestAdapterSoftMiss(t *testing.T) {
	ctx := context.Background()
	a := newLocalAdapter(t)

	require.NoError(t, a.PutSet(ctx, []byte("set"), []string{"x"}))
	require.NoError(t, a.Put(ctx, []byte("scalar"), []byte("v")))

	_, found, err := a.Get(ctx, []byte("set"))
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = a.GetSet(ctx, []byte("scalar"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAdapterPutIDMismatch(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		// Reports success, but for some other request.
		return []kvs.Response{
			{ID: "someone-else", Kind: req.Kind, Key: req.Key},
			{ID: req.ID, Kind: req.Kind, Key: req.Key},
		}
	})
	a := New(collab, testOptions(), logging.NewNopLogger())

	err := a.Put(context.Background(), []byte("a"), []byte("foo"))
	require.Error(t, err)
	assert.Equal(t, InvalidResponse, KindOf(err))
	assert.ErrorIs(t, err, errors.ErrInvalidResponse)

	// The matching second entry was discarded, not re-queued.
	batch, _ := collab.Poll()
	assert.Empty(t, batch)
}

func TestAdapterPutMismatchOverridesCode(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		return []kvs.Response{{ID: "stale", Key: req.Key, Error: kvs.ErrNoServers}}
	})
	a := New(collab, testOptions(), logging.NewNopLogger())

	err := a.Put(context.Background(), []byte("a"), []byte("foo"))
	assert.Equal(t, InvalidResponse, KindOf(err))
}

func TestAdapterGetBatchSize(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		ok := kvs.Response{ID: req.ID, Key: req.Key, Lattice: lattice.TypeLWW, Payload: lww(t, "v")}
		return []kvs.Response{ok, ok}
	})
	a := New(collab, testOptions(), logging.NewNopLogger())

	_, _, err := a.Get(context.Background(), []byte("a"))
	assert.Equal(t, InvalidResponse, KindOf(err))

	_, _, err = a.GetSet(context.Background(), []byte("a"))
	assert.Equal(t, InvalidResponse, KindOf(err))
}

func TestAdapterWireErrors(t *testing.T) {
	tests := []struct {
		code kvs.ErrorCode
		want ErrorKind
	}{
		{kvs.ErrWrongThread, WrongThread},
		{kvs.ErrTimeout, Timeout},
		{kvs.ErrLattice, LatticeError},
		{kvs.ErrNoServers, NoServers},
		{kvs.ErrStorage, Unknown},
		{kvs.ErrorCode(77), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			collab := newScripted(func(req kvs.Request) []kvs.Response {
				return []kvs.Response{{ID: req.ID, Key: req.Key, Error: tt.code}}
			})
			a := New(collab, testOptions(), logging.NewNopLogger())

			err := a.Put(context.Background(), []byte("k"), []byte("v"))
			assert.Equal(t, tt.want, KindOf(err))

			_, found, err := a.Get(context.Background(), []byte("k"))
			assert.False(t, found)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}

	t.Run("KEY_DNE on put is an error", func(t *testing.T) {
		collab := newScripted(func(req kvs.Request) []kvs.Response {
			return []kvs.Response{{ID: req.ID, Key: req.Key, Error: kvs.ErrKeyDNE}}
		})
		a := New(collab, testOptions(), logging.NewNopLogger())
		assert.Equal(t, KeyNotFound, KindOf(a.Put(context.Background(), []byte("k"), nil)))
	})
}

func TestAdapterUndecodablePayload(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		return []kvs.Response{{ID: req.ID, Key: req.Key, Lattice: lattice.TypeLWW, Payload: []byte{0x12, 0x05}}}
	})
	a := New(collab, testOptions(), logging.NewNopLogger())

	_, found, err := a.Get(context.Background(), []byte("k"))
	assert.False(t, found)
	assert.Equal(t, LatticeError, KindOf(err))
}

func TestAdapterTimeout(t *testing.T) {
	collab := newScripted(func(kvs.Request) []kvs.Response { return nil })
	a := New(collab, Options{Timeout: 30 * time.Millisecond, MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, logging.NewNopLogger())

	start := time.Now()
	err := a.Put(context.Background(), []byte("k"), []byte("v"))
	assert.Equal(t, Timeout, KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	_, _, err = a.Get(context.Background(), []byte("k"))
	assert.Equal(t, Timeout, KindOf(err))
}

func TestAdapterCallerDeadline(t *testing.T) {
	collab := newScripted(func(kvs.Request) []kvs.Response { return nil })
	a := New(collab, Options{Timeout: time.Hour}, logging.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := a.GetSet(ctx, []byte("k"))
	assert.Equal(t, Timeout, KindOf(err))
}

func TestAdapterTimestampsIncrease(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		return []kvs.Response{{ID: req.ID, Key: req.Key}}
	})
	a := New(collab, testOptions(), logging.NewNopLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Put(context.Background(), []byte("k"), []byte("v")))
	}

	var last uint64
	for _, req := range collab.submits {
		env, err := lattice.Decode(req.Lattice, req.Payload)
		require.NoError(t, err)
		ts := env.(lattice.LWW).Timestamp
		assert.Greater(t, ts, last)
		last = ts
	}
}

func TestAdapterClose(t *testing.T) {
	collab := newScripted(func(kvs.Request) []kvs.Response { return nil })
	a := New(collab, testOptions(), logging.NewNopLogger())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, collab.closed)

	err := a.Put(context.Background(), []byte("k"), []byte("v"))
	assert.True(t, errors.Is(err, errors.DomainStore, errors.CodeClosed))
	assert.Equal(t, Unknown, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Success, KindOf(nil))
	assert.Equal(t, Unknown, KindOf(assert.AnError))
	assert.Equal(t, Unknown, KindOf(errors.ErrMemoryFault))
	assert.Equal(t, NoServers, KindOf(errors.ErrNoServers))
	assert.Equal(t, "LatticeError", LatticeError.String())
}

// slowBackend delays its first Store, so the first write is answered after
// the adapter has given up on it.
type slowBackend struct {
	*kvs.MemoryBackend
	delay time.Duration
	once  sync.Once
}

func (b *slowBackend) Store(key []byte, t lattice.Type, payload []byte) error {
	b.once.Do(func() { time.Sleep(b.delay) })
	return b.MemoryBackend.Store(key, t, payload)
}

func newSlowEngine(delay time.Duration) *kvs.Engine {
	return kvs.NewEngine(&slowBackend{MemoryBackend: kvs.NewMemoryBackend(), delay: delay}, logging.NewNopLogger())
}

// assertRecovers checks that the calls after a timed-out put see their own
// responses.
func assertRecovers(t *testing.T, a *Adapter) {
	t.Helper()
	ctx := context.Background()

	v, found, err := a.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("first"), v)

	require.NoError(t, a.Put(ctx, []byte("b"), []byte("second")))
	v, found, err = a.Get(ctx, []byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("second"), v)
}

func TestAdapterLateReplyAfterTimeout(t *testing.T) {
	tests := []struct {
		name  string
		pause time.Duration
	}{
		{name: "reply arrives during the next call", pause: 0},
		{name: "reply queued before the next call", pause: 300 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.NewNopLogger()
			a := New(kvs.NewLocalClient(newSlowEngine(200*time.Millisecond), logger, true), Options{
				Timeout:    150 * time.Millisecond,
				MinBackoff: time.Millisecond,
				MaxBackoff: 5 * time.Millisecond,
			}, logger)
			defer a.Close()

			err := a.Put(context.Background(), []byte("a"), []byte("first"))
			require.Error(t, err)
			assert.Equal(t, Timeout, KindOf(err))

			time.Sleep(tt.pause)
			assertRecovers(t, a)
		})
	}
}

func TestAdapterRemoteLateReplyAfterTimeout(t *testing.T) {
	logger := logging.NewNopLogger()
	srv, err := kvs.NewServer(newSlowEngine(200*time.Millisecond), logger)
	require.NoError(t, err)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	defer srv.Close()

	const timeout = 150 * time.Millisecond
	network := kvs.NewNetwork(time.Second, logger)
	client, err := kvs.NewRemoteClient(network, kvs.RemoteOptions{
		Addresses: []string{l.Addr().String()},
		Timeout:   timeout,
	}, logger)
	require.NoError(t, err)

	a := New(client, Options{
		Timeout:    timeout,
		Grace:      timeout,
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}, logger)

	err = a.Put(context.Background(), []byte("a"), []byte("first"))
	require.Error(t, err)
	assert.Equal(t, Timeout, KindOf(err))
	var de *errors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Nil(t, de.Cause, "the client's own TIMEOUT response is consumed, not the local deadline")

	assertRecovers(t, a)

	require.NoError(t, a.Close())
	require.NoError(t, network.Close())
}

func TestAdapterGetRejectsPutResponse(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		return []kvs.Response{{ID: "x", Kind: kvs.KindPutScalar, Key: req.Key}}
	})
	a := New(collab, testOptions(), logging.NewNopLogger())

	_, found, err := a.Get(context.Background(), []byte("a"))
	assert.False(t, found)
	assert.Equal(t, InvalidResponse, KindOf(err))
}

func TestAdapterDiscardsQueuedResponses(t *testing.T) {
	collab := newScripted(func(req kvs.Request) []kvs.Response {
		return []kvs.Response{{ID: req.ID, Kind: req.Kind, Key: req.Key}}
	})
	collab.pending = []kvs.Response{{ID: "stale", Kind: kvs.KindPutScalar, Key: []byte("old")}}
	a := New(collab, testOptions(), logging.NewNopLogger())

	require.NoError(t, a.Put(context.Background(), []byte("a"), []byte("foo")))
}
