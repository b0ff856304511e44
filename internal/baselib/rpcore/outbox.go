package rpcore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// outboxState names the Outbox's lifecycle states explicitly rather than
// tracking them as loose boolean flags.
type outboxState int

const (
	// outboxIdle: queue empty, no client, no connect in flight.
	outboxIdle outboxState = iota
	// outboxConnecting: a connect task has been submitted; the queue may
	// still accumulate.
	outboxConnecting
	// outboxLive: holds a client; drains items to it.
	outboxLive
	// outboxStopped: terminal; queue contents have been failed and any
	// subsequent send fails immediately.
	outboxStopped
)

func (s outboxState) String() string {
	switch s {
	case outboxIdle:
		return "idle"
	case outboxConnecting:
		return "connecting"
	case outboxLive:
		return "live"
	case outboxStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ClientFactory creates transport clients on demand. Outbox connect tasks
// call this on the connect pool; creation may fail, and the factory is free
// to pool connections internally.
type ClientFactory interface {
	CreateClient(ctx context.Context, addr Address) (Client, error)
}

// Client is the transport-layer contract an Outbox drains into: an RPC write
// whose callback receives either response bytes or a transport error, plus a
// fire-and-forget write.
type Client interface {
	// SendRPC writes payload and arranges for callback to be invoked
	// exactly once with the response or a transport error.
	SendRPC(payload []byte, callback func(resp []byte, err error))

	// SendOneWay writes payload with no expectation of a reply. onError
	// is invoked at most once, only if the write itself fails; a
	// successful fire-and-forget write never calls it. This is what lets
	// the Outbox's drain loop notice a one-way write failure and drive
	// the drop-client-and-stop transition, since one-way items otherwise
	// have no channel back to the caller.
	SendOneWay(payload []byte, onError func(err error))

	// Close releases the underlying transport connection.
	Close() error
}

// Outbox serializes outbound traffic to one remote Address over a Client
// that may not yet exist. It guarantees strict FIFO delivery to the
// transport layer and at most one in-flight connect attempt.
//
// Locking discipline mirrors Inbox: mu is held only across queue/state
// manipulation and is always released before a transport write.
type Outbox struct {
	mu sync.Mutex

	addr  Address
	state outboxState

	queue    []OutboxItem
	client   Client
	draining bool

	factory     ClientFactory
	connectPool *errgroup.Group
	connectCtx  context.Context

	// onRemove is invoked once, when the outbox transitions to Stopped,
	// so the owning RpcEnvironment can evict it from its outbox registry
	// and a later send constructs a fresh one.
	onRemove func()

	// notify broadcasts RemoteConnected/RemoteDisconnected/RemoteFailure
	// lifecycle items to locally registered endpoints.
	notify func(item MailboxItem)
}

// newOutbox creates an idle Outbox for addr. The connect pool's context
// governs in-flight connect attempts; cancelling it aborts a pending
// connect but does not itself stop the outbox (Stop does that).
func newOutbox(
	addr Address, factory ClientFactory, connectCtx context.Context,
	connectPool *errgroup.Group, onRemove func(), notify func(MailboxItem),
) *Outbox {
	return &Outbox{
		addr:        addr,
		factory:     factory,
		connectCtx:  connectCtx,
		connectPool: connectPool,
		onRemove:    onRemove,
		notify:      notify,
	}
}

// transition moves the outbox to next, logging the state change. Callers
// must hold o.mu.
func (o *Outbox) transition(next outboxState) {
	log.DebugS(context.Background(), "Outbox state change",
		"addr", o.addr.String(),
		"from", o.state.String(),
		"to", next.String())
	o.state = next
}

// Send enqueues item for delivery to addr's transport client. A Stopped
// outbox fails item immediately instead of queueing it.
func (o *Outbox) Send(item OutboxItem) {
	o.mu.Lock()

	if o.state == outboxStopped {
		o.mu.Unlock()
		failOutboxItem(item, fmt.Errorf(
			"%w: outbox for %s stopped", ErrTransportFailure, o.addr,
		))
		return
	}

	o.queue = append(o.queue, item)

	switch o.state {
	case outboxLive:
		if !o.draining {
			o.draining = true
			go o.drain()
		}
		o.mu.Unlock()

	case outboxConnecting:
		// A connect is already in flight; the new item will be picked
		// up once it completes and a drain starts.
		o.mu.Unlock()

	case outboxIdle:
		o.transition(outboxConnecting)
		o.mu.Unlock()
		o.connect()

	default:
		o.mu.Unlock()
	}
}

// connect submits a connect task to the shared connect pool. Only one
// connect task per outbox ever runs: Send only calls connect() from the
// outboxIdle branch, and it transitions to outboxConnecting under the lock
// before releasing it, so a concurrent Send sees outboxConnecting and just
// appends to the queue.
func (o *Outbox) connect() {
	o.connectPool.Go(func() error {
		client, err := o.factory.CreateClient(o.connectCtx, o.addr)

		o.mu.Lock()
		if o.state == outboxStopped {
			o.mu.Unlock()
			if client != nil {
				_ = client.Close()
			}
			return nil
		}

		if err != nil {
			o.mu.Unlock()
			log.WarnS(context.Background(), "Outbox connect failed", err,
				"addr", o.addr.String())
			o.failAllAndStop(fmt.Errorf("%w: %v", ErrTransportFailure, err))
			return nil
		}

		o.client = client
		o.transition(outboxLive)
		if !o.draining && len(o.queue) > 0 {
			o.draining = true
			go o.drain()
		}
		o.mu.Unlock()

		if o.notify != nil {
			o.notify(remoteConnectedItem{addr: o.addr})
		}
		return nil
	})
}

// drain is the Outbox's single drainer, enforced by the draining flag: pop
// items under the lock, write each to the client outside the lock. A
// transport failure drops the client, fails every remaining item, and stops
// the outbox.
func (o *Outbox) drain() {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 || o.state != outboxLive {
			o.draining = false
			o.mu.Unlock()
			return
		}
		item := o.queue[0]
		o.queue = o.queue[1:]
		client := o.client
		o.mu.Unlock()

		if err := writeToClient(o, client, item); err != nil {
			log.WarnS(context.Background(), "Outbox write failed", err,
				"addr", o.addr.String())
			o.failAllAndStop(fmt.Errorf("%w: %v", ErrTransportFailure, err))
			return
		}
	}
}

// writeToClient dispatches item to client according to its variant. A
// one-way write failure reports back onto o
// asynchronously via onError, since SendOneWay has no other channel back to
// the caller; rpcOutboxItem/checkExistenceOutboxItem failures instead surface
// through that item's own callback (they may be request-specific, e.g. an
// unknown endpoint, rather than a connection-wide failure).
func writeToClient(o *Outbox, client Client, item OutboxItem) error {
	switch v := item.(type) {
	case oneWayOutboxItem:
		client.SendOneWay(v.frame, func(err error) {
			if err == nil {
				return
			}
			log.WarnS(context.Background(), "Outbox one-way write failed",
				err, "addr", o.addr.String())
			o.failAllAndStop(fmt.Errorf("%w: %v", ErrTransportFailure, err))
		})
		return nil

	case rpcOutboxItem:
		client.SendRPC(v.frame, v.callback)
		return nil

	case checkExistenceOutboxItem:
		client.SendRPC(
			v.frame,
			func(resp []byte, err error) {
				if err != nil {
					v.callback(false, err)
					return
				}
				v.callback(len(resp) > 0 && resp[0] == 1, nil)
			},
		)
		return nil

	default:
		return fmt.Errorf("rpcore: unknown outbox item type %T", item)
	}
}

// failAllAndStop transitions the outbox to Stopped after a transport
// failure: every queued item is failed, local endpoints are told about the
// failure (and the disconnect, if a client was live), the client is closed,
// and the outbox detaches from the environment's registry.
func (o *Outbox) failAllAndStop(err error) {
	o.stopWith(err, false)
}

// Stop transitions the outbox to Stopped unconditionally (not only on
// failure). Used by RpcEnvironment.Shutdown.
func (o *Outbox) Stop() {
	o.stopWith(fmt.Errorf(
		"%w: outbox for %s shut down", ErrTransportFailure, o.addr,
	), true)
}

func (o *Outbox) stopWith(err error, graceful bool) {
	o.mu.Lock()
	if o.state == outboxStopped {
		o.mu.Unlock()
		return
	}
	o.transition(outboxStopped)
	o.draining = false
	pending := o.queue
	o.queue = nil
	client := o.client
	o.client = nil
	o.mu.Unlock()

	for _, item := range pending {
		failOutboxItem(item, err)
	}

	if client != nil {
		_ = client.Close()
	}

	if o.notify != nil {
		if !graceful {
			o.notify(remoteFailureItem{addr: o.addr, err: err})
		}
		if client != nil {
			o.notify(remoteDisconnectedItem{addr: o.addr})
		}
	}

	if o.onRemove != nil {
		o.onRemove()
	}
}

// failOutboxItem fails item's callback, if it has one, with err. One-way
// items have no callback and are simply dropped.
func failOutboxItem(item OutboxItem, err error) {
	switch v := item.(type) {
	case rpcOutboxItem:
		v.callback(nil, err)
	case checkExistenceOutboxItem:
		v.callback(false, err)
	case oneWayOutboxItem:
		// No callback; nothing to fail.
	}
}
