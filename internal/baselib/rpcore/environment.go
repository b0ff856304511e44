package rpcore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

// reservedVerifierName is the built-in endpoint name reserved for existence
// checks; user registrations under this name are rejected.
const reservedVerifierName = "__rpcore_verifier__"

// defaultConnectThreads bounds the Outbox connect pool when
// EnvironmentConfig.ConnectThreads is zero or negative.
const defaultConnectThreads = 8

// EnvironmentConfig configures an RpcEnvironment.
type EnvironmentConfig struct {
	// LocalAddr is this environment's own listen address. It may be
	// ClientOnlyAddress for an environment that only ever originates
	// requests and never accepts inbound traffic.
	LocalAddr Address

	// Dispatcher tunes the local worker pool. Zero value takes
	// DefaultDispatcherConfig.
	Dispatcher DispatcherConfig

	// ConnectThreads bounds how many Outbox connect attempts may be in
	// flight at once across every remote address this environment talks
	// to. Values <= 0 default to defaultConnectThreads.
	ConnectThreads int

	// ClientFactory builds transport clients for outbound connections to
	// remote addresses. Required unless every reference this environment
	// ever obtains is bound to a pre-existing client.
	ClientFactory ClientFactory
}

// RpcEnvironment is the top-level façade of the runtime: it owns
// one Dispatcher for local endpoints, an Outbox per distinct remote address a
// caller has ever sent to, and the shared connect pool those outboxes submit
// their connect tasks to.
type RpcEnvironment struct {
	localAddr Address

	dispatcher *Dispatcher

	outboxMu sync.Mutex
	outboxes map[Address]*Outbox

	clientFactory ClientFactory

	connectCtx    context.Context
	connectCancel context.CancelFunc
	connectPool   *errgroup.Group

	// stopped is read from outboxFor (under outboxMu) and written from
	// Shutdown; atomic.Bool avoids pairing those with two different
	// locks.
	stopped atomic.Bool
}

// NewRpcEnvironment constructs an RpcEnvironment and eagerly registers the
// reserved verifier endpoint, so remote existence probes can be answered as
// soon as a transport server is serving this environment.
func NewRpcEnvironment(cfg EnvironmentConfig) (*RpcEnvironment, error) {
	connectThreads := cfg.ConnectThreads
	if connectThreads <= 0 {
		connectThreads = defaultConnectThreads
	}

	connectCtx, cancel := context.WithCancel(context.Background())
	pool, _ := errgroup.WithContext(connectCtx)
	pool.SetLimit(connectThreads)

	env := &RpcEnvironment{
		localAddr:     cfg.LocalAddr,
		dispatcher:    NewDispatcher(cfg.LocalAddr, cfg.Dispatcher),
		outboxes:      make(map[Address]*Outbox),
		clientFactory: cfg.ClientFactory,
		connectCtx:    connectCtx,
		connectCancel: cancel,
		connectPool:   pool,
	}

	if _, err := env.dispatcher.Register(
		reservedVerifierName, newVerifierEndpoint(env.dispatcher),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("rpcore: registering verifier endpoint: %w", err)
	}

	return env, nil
}

// LocalAddr returns this environment's own listen address.
func (env *RpcEnvironment) LocalAddr() Address {
	return env.localAddr
}

// Dispatcher returns the environment's local Dispatcher, for wiring a
// transport.Server's InboundHandler to this environment's registry.
func (env *RpcEnvironment) Dispatcher() *Dispatcher {
	return env.dispatcher
}

// Register registers endpoint under name in the local dispatcher, rejecting
// the reserved verifier name.
func (env *RpcEnvironment) Register(
	name string, endpoint Endpoint,
) (*EndpointReference, error) {
	if name == reservedVerifierName {
		return nil, fmt.Errorf("%w: %q", ErrReservedEndpointName, name)
	}

	ref, err := env.dispatcher.Register(name, endpoint)
	if err != nil {
		return nil, err
	}
	ref.env = env
	return ref, nil
}

// Unregister stops and removes the named local endpoint.
func (env *RpcEnvironment) Unregister(name string) bool {
	return env.dispatcher.Unregister(name)
}

// EndpointRefFor builds an EndpointReference for name at addr. If addr equals
// this environment's own local address, the returned reference routes
// locally through the Dispatcher (and the endpoint must already be
// registered, or asks against it resolve with NoSuchEndpoint and one-way
// sends are dropped);
// otherwise it routes through that address's Outbox. No network round trip
// happens here: constructing a reference never blocks and never touches the
// network, and existence is not verified until a message is actually sent.
func (env *RpcEnvironment) EndpointRefFor(
	name string, addr Address,
) *EndpointReference {
	if addr == env.localAddr {
		return &EndpointReference{
			name:       name,
			remoteAddr: addr,
			local:      env.dispatcher,
			env:        env,
		}
	}

	return &EndpointReference{
		name:       name,
		remoteAddr: addr,
		env:        env,
	}
}

// BindClient returns an EndpointReference for name that writes directly to
// client, bypassing both the local dispatcher and the outbox registry. Used
// by ephemeral client-side callers that have no listen address of their own.
func (env *RpcEnvironment) BindClient(name string, client Client) *EndpointReference {
	return &EndpointReference{
		name:        name,
		remoteAddr:  ClientOnlyAddress,
		boundClient: client,
	}
}

// CheckExistence asks addr's verifier endpoint whether name is currently
// registered there.
func (env *RpcEnvironment) CheckExistence(
	ctx context.Context, name string, addr Address,
) (bool, error) {
	if addr == env.localAddr {
		_, _, ok := env.dispatcher.lookup(name)
		return ok, nil
	}

	outbox, err := env.outboxFor(addr)
	if err != nil {
		return false, err
	}

	frame := EncodeFrame(
		env.localAddr, reservedVerifierName,
		[]byte("check-existence:"+name),
	)

	promise := NewPromise[bool]()
	outbox.Send(checkExistenceOutboxItem{
		frame: frame,
		callback: func(exists bool, err error) {
			if err != nil {
				promise.Complete(fn.Err[bool](err))
				return
			}
			promise.Complete(fn.Ok(exists))
		},
	})

	result := promise.Future().Await(ctx)
	var exists bool
	var outErr error
	result.WhenOk(func(v bool) { exists = v })
	result.WhenErr(func(e error) { outErr = e })
	return exists, outErr
}

// outboxFor returns the Outbox for addr, creating it on first use. There is
// exactly one Outbox per distinct remote address for
// the lifetime of the environment (until that outbox fails and detaches
// itself, at which point a fresh send recreates it).
func (env *RpcEnvironment) outboxFor(addr Address) (*Outbox, error) {
	env.outboxMu.Lock()
	defer env.outboxMu.Unlock()

	if env.stopped.Load() {
		return nil, ErrEnvironmentStopped
	}

	if ob, ok := env.outboxes[addr]; ok {
		return ob, nil
	}

	if env.clientFactory == nil {
		return nil, fmt.Errorf(
			"%w: no client factory configured for remote address %s",
			ErrTransportFailure, addr,
		)
	}

	ob := newOutbox(
		addr, env.clientFactory, env.connectCtx, env.connectPool,
		func() { env.removeOutbox(addr, nil) },
		func(item MailboxItem) { env.dispatcher.broadcastLifecycle(item) },
	)
	env.outboxes[addr] = ob
	return ob, nil
}

// removeOutbox evicts addr's outbox from the registry if it is still the
// instance expected (or unconditionally, when expected is nil), so a failed
// outbox doesn't linger and block a future reconnect attempt.
func (env *RpcEnvironment) removeOutbox(addr Address, expected *Outbox) {
	env.outboxMu.Lock()
	defer env.outboxMu.Unlock()

	if expected == nil {
		delete(env.outboxes, addr)
		return
	}
	if current, ok := env.outboxes[addr]; ok && current == expected {
		delete(env.outboxes, addr)
	}
}

// outboxSendOneWay routes a fire-and-forget send to addr's Outbox as a
// one-way outbox item. payload is a frame the caller has already built with
// EncodeFrame; it is queued as-is.
func (env *RpcEnvironment) outboxSendOneWay(addr Address, payload []byte) error {
	outbox, err := env.outboxFor(addr)
	if err != nil {
		return err
	}
	outbox.Send(oneWayOutboxItem{frame: payload})
	return nil
}

// outboxAsk routes a request/response send to addr's Outbox and returns a
// Future resolved by the transport callback.
func (env *RpcEnvironment) outboxAsk(addr Address, payload []byte) Future[[]byte] {
	outbox, err := env.outboxFor(addr)
	if err != nil {
		return completedFuture(errBytes(err))
	}

	promise := NewPromise[[]byte]()
	outbox.Send(rpcOutboxItem{
		frame: payload,
		callback: func(resp []byte, err error) {
			if err != nil {
				promise.Complete(errBytes(err))
				return
			}
			promise.Complete(okBytes(resp))
		},
	})
	return promise.Future()
}

// Shutdown stops every outbox, then the local dispatcher, and finally
// cancels the connect pool's context and waits for any in-flight connect
// attempts to unwind. Outboxes stop first so a reply racing shutdown cannot
// generate new outbound traffic while the dispatcher drains.
func (env *RpcEnvironment) Shutdown(ctx context.Context) error {
	if !env.stopped.CompareAndSwap(false, true) {
		return nil
	}

	env.outboxMu.Lock()
	snapshot := make([]*Outbox, 0, len(env.outboxes))
	for _, ob := range env.outboxes {
		snapshot = append(snapshot, ob)
	}
	env.outboxes = make(map[Address]*Outbox)
	env.outboxMu.Unlock()

	for _, ob := range snapshot {
		ob.Stop()
	}

	env.dispatcher.Shutdown()
	env.connectCancel()

	done := make(chan error, 1)
	go func() { done <- env.connectPool.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
