package rpcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClient is an in-memory Client used to drive Outbox tests without any
// real transport. Every SendOneWay/SendRPC call is recorded; SendRPC
// responses are controlled by the test via respond.
type fakeClient struct {
	mu       sync.Mutex
	oneWays  [][]byte
	requests [][]byte
	closed   bool

	respond func(payload []byte) ([]byte, error)

	// oneWayErr, when set, is reported through SendOneWay's onError
	// callback instead of recording the payload as delivered.
	oneWayErr error
}

func (c *fakeClient) SendOneWay(payload []byte, onError func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.oneWayErr != nil {
		onError(c.oneWayErr)
		return
	}
	c.oneWays = append(c.oneWays, payload)
}

func (c *fakeClient) SendRPC(payload []byte, callback func([]byte, error)) {
	c.mu.Lock()
	c.requests = append(c.requests, payload)
	respond := c.respond
	c.mu.Unlock()

	if respond == nil {
		callback(append([]byte("ack:"), payload...), nil)
		return
	}
	resp, err := respond(payload)
	callback(resp, err)
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeFactory builds fakeClients, optionally failing the first failCount
// connect attempts with createErr to exercise the Outbox's connect-failure
// path.
type fakeFactory struct {
	mu         sync.Mutex
	client     *fakeClient
	failCount  int
	createErr  error
	createdNum int
}

func (f *fakeFactory) CreateClient(ctx context.Context, addr Address) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdNum++
	if f.createErr != nil && f.createdNum <= f.failCount {
		return nil, f.createErr
	}
	if f.client == nil {
		f.client = &fakeClient{}
	}
	return f.client, nil
}

func newTestOutbox(factory ClientFactory) (*Outbox, *errgroup.Group, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, _ := errgroup.WithContext(ctx)
	ob := newOutbox(testAddr(9000), factory, ctx, pool, nil, nil)
	return ob, pool, cancel
}

// TestOutboxOneWayDeliversAfterConnect verifies that a one-way item sent to
// an idle outbox triggers a connect, then is delivered to the client once
// connected.
func TestOutboxOneWayDeliversAfterConnect(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	ob, pool, cancel := newTestOutbox(factory)
	defer cancel()

	ob.Send(oneWayOutboxItem{frame: []byte("hello")})

	require.NoError(t, pool.Wait())
	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return factory.client != nil && len(factory.client.oneWays) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestOutboxPreservesFIFOOrderAcrossConnect verifies that items enqueued
// while a connect is still in flight are drained to the client strictly in
// the order they were sent.
func TestOutboxPreservesFIFOOrderAcrossConnect(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	ob, pool, cancel := newTestOutbox(factory)
	defer cancel()

	const numItems = 20
	for i := 0; i < numItems; i++ {
		ob.Send(oneWayOutboxItem{frame: []byte{byte(i)}})
	}

	require.NoError(t, pool.Wait())
	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return factory.client != nil && len(factory.client.oneWays) == numItems
	}, time.Second, 5*time.Millisecond)

	factory.mu.Lock()
	defer factory.mu.Unlock()
	for i, frame := range factory.client.oneWays {
		require.Equal(t, []byte{byte(i)}, frame)
	}
}

// TestOutboxRPCRoundTrip verifies that an rpcOutboxItem's callback receives
// the client's response.
func TestOutboxRPCRoundTrip(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	ob, pool, cancel := newTestOutbox(factory)
	defer cancel()

	respCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	ob.Send(rpcOutboxItem{
		frame: []byte("ping"),
		callback: func(resp []byte, err error) {
			respCh <- resp
			errCh <- err
		},
	})

	require.NoError(t, pool.Wait())

	select {
	case resp := <-respCh:
		require.Equal(t, "ack:ping", string(resp))
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}
	require.NoError(t, <-errCh)
}

// TestOutboxConnectFailureFailsQueuedItems verifies that a connect failure
// fails every item queued so far with a TransportFailure error, and that the
// outbox transitions to Stopped so a later Send fails immediately too.
func TestOutboxConnectFailureFailsQueuedItems(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{
		createErr: errors.New("boom"),
		failCount: 100,
	}
	ob, pool, cancel := newTestOutbox(factory)
	defer cancel()

	errCh := make(chan error, 1)
	ob.Send(rpcOutboxItem{
		frame: []byte("ping"),
		callback: func(resp []byte, err error) {
			errCh <- err
		},
	})

	require.NoError(t, pool.Wait())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTransportFailure)
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}

	// A send after the outbox has stopped must fail immediately without
	// ever reaching the client.
	errCh2 := make(chan error, 1)
	ob.Send(rpcOutboxItem{
		frame: []byte("late"),
		callback: func(resp []byte, err error) {
			errCh2 <- err
		},
	})
	select {
	case err := <-errCh2:
		require.ErrorIs(t, err, ErrTransportFailure)
	case <-time.After(time.Second):
		t.Fatal("late send was never failed")
	}
}

// TestOutboxStopFailsLaterSendsAndClosesClient verifies the explicit Stop
// path used by RpcEnvironment.Shutdown: a send made after Stop fails with a
// TransportFailure, and the live client is closed.
func TestOutboxStopFailsLaterSendsAndClosesClient(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	ob, pool, cancel := newTestOutbox(factory)
	defer cancel()

	ob.Send(oneWayOutboxItem{frame: []byte("connect-me")})
	require.NoError(t, pool.Wait())
	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return factory.client != nil
	}, time.Second, 5*time.Millisecond)

	errCh := make(chan error, 1)
	ob.Stop()

	ob.Send(rpcOutboxItem{
		frame: []byte("after-stop"),
		callback: func(resp []byte, err error) {
			errCh <- err
		},
	})

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTransportFailure)
	case <-time.After(time.Second):
		t.Fatal("send after Stop was never failed")
	}

	factory.mu.Lock()
	defer factory.mu.Unlock()
	require.True(t, factory.client.closed)
}

// TestOutboxOneWayWriteFailureStopsOutbox verifies that a one-way write
// failure (previously unreachable because SendOneWay had no error channel
// back to the Outbox) drives the drop-client-and-stop transition, so later
// sends fail with a TransportFailure.
func TestOutboxOneWayWriteFailureStopsOutbox(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{}
	ob, pool, cancel := newTestOutbox(factory)
	defer cancel()

	ob.Send(oneWayOutboxItem{frame: []byte("connect-me")})
	require.NoError(t, pool.Wait())
	require.Eventually(t, func() bool {
		factory.mu.Lock()
		defer factory.mu.Unlock()
		return factory.client != nil
	}, time.Second, 5*time.Millisecond)

	factory.mu.Lock()
	factory.client.oneWayErr = errors.New("connection reset")
	factory.mu.Unlock()

	ob.Send(oneWayOutboxItem{frame: []byte("will-fail")})

	errCh := make(chan error, 1)
	require.Eventually(t, func() bool {
		ob.Send(rpcOutboxItem{
			frame: []byte("probe"),
			callback: func(resp []byte, err error) {
				errCh <- err
			},
		})
		select {
		case err := <-errCh:
			return err != nil && errors.Is(err, ErrTransportFailure)
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

// TestOutboxNotifiesLifecycle verifies the transport lifecycle broadcasts: a
// successful connect emits a connected item, and a graceful Stop of a live
// outbox emits a disconnected item but no failure.
func TestOutboxNotifiesLifecycle(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var items []MailboxItem
	record := func(item MailboxItem) {
		mu.Lock()
		defer mu.Unlock()
		items = append(items, item)
	}
	has := func(match func(MailboxItem) bool) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			for _, item := range items {
				if match(item) {
					return true
				}
			}
			return false
		}
	}

	factory := &fakeFactory{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool, _ := errgroup.WithContext(ctx)
	ob := newOutbox(testAddr(9002), factory, ctx, pool, nil, record)

	ob.Send(oneWayOutboxItem{frame: []byte("x")})
	require.NoError(t, pool.Wait())

	require.Eventually(t, has(func(item MailboxItem) bool {
		_, ok := item.(remoteConnectedItem)
		return ok
	}), time.Second, 5*time.Millisecond)

	ob.Stop()

	require.Eventually(t, has(func(item MailboxItem) bool {
		_, ok := item.(remoteDisconnectedItem)
		return ok
	}), time.Second, 5*time.Millisecond)

	require.False(t, has(func(item MailboxItem) bool {
		_, ok := item.(remoteFailureItem)
		return ok
	})())
}

// TestOutboxOnRemoveCalledOnFailure verifies that a failed outbox invokes
// its onRemove callback exactly once, so an owning registry can evict it.
func TestOutboxOnRemoveCalledOnFailure(t *testing.T) {
	t.Parallel()

	factory := &fakeFactory{createErr: errors.New("boom"), failCount: 100}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool, _ := errgroup.WithContext(ctx)

	var removeCount int
	var mu sync.Mutex
	ob := newOutbox(testAddr(9001), factory, ctx, pool, func() {
		mu.Lock()
		removeCount++
		mu.Unlock()
	}, nil)

	ob.Send(oneWayOutboxItem{frame: []byte("x")})
	require.NoError(t, pool.Wait())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return removeCount == 1
	}, time.Second, 5*time.Millisecond)
}
