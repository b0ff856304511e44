package rpcore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// newCorrelationID mints a per-request correlation id for log correlation.
// It appears only in the log lines EndpointReference.Send and Ask emit while
// routing a request; it is not carried into Inbox, Outbox or transport log
// lines, and it has no effect on wire semantics.
func newCorrelationID() string {
	return uuid.New().String()
}

// EndpointReference is an immutable, location-transparent handle to an
// endpoint, identified by the triple (name, remoteAddr, env). A local
// reference has remoteAddr == env's listen address. Equality and hashing are
// structural over (name, remoteAddr) through Equal; == on the struct value
// also compares its routing fields (local, env, boundClient), so it is not
// the structural comparison.
type EndpointReference struct {
	name       string
	remoteAddr Address

	// local is set when this reference targets an endpoint registered in
	// the current process's Dispatcher. Routing consults this directly
	// rather than re-deriving "local-ness" from address comparison, since
	// the reference was constructed by Dispatcher.Register precisely
	// because it is local.
	local *Dispatcher

	// env is the owning environment, used to route remote traffic through
	// its Outbox registry.
	env *RpcEnvironment

	// boundClient, when non-nil, is a pre-bound transport client used for
	// ephemeral client-side endpoints that have no listen address. When
	// set, the outbox lookup is bypassed entirely.
	boundClient Client
}

// Name returns the endpoint's registration name.
func (r *EndpointReference) Name() string {
	return r.name
}

// Address returns the remote address this reference targets.
func (r *EndpointReference) Address() Address {
	return r.remoteAddr
}

// Equal reports structural equality over (name, remoteAddr).
func (r *EndpointReference) Equal(other *EndpointReference) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.name == other.name && r.remoteAddr == other.remoteAddr
}

// isLocal reports whether this reference targets an endpoint registered in
// the current environment. Local-ness is decided at construction time, where
// the reference's address was compared structurally against the
// environment's listen address.
func (r *EndpointReference) isLocal() bool {
	return r.local != nil
}

// Send delivers payload as a fire-and-forget one-way message. Local
// references post directly to the Dispatcher; remote references enqueue a
// OneWayOutbox item; bound-client references write straight to the bound
// client.
func (r *EndpointReference) Send(ctx context.Context, payload []byte) error {
	sender := r.senderAddress()
	corrID := newCorrelationID()
	log.TraceS(ctx, "Routing send", "endpoint", r.name,
		"addr", r.remoteAddr.String(), "corr_id", corrID)

	switch {
	case r.boundClient != nil:
		frame := EncodeFrame(sender, r.name, payload)
		r.boundClient.SendOneWay(frame, func(err error) {
			log.WarnS(context.Background(), "Bound-client one-way send failed",
				err, "endpoint", r.name, "corr_id", corrID)
		})
		return nil

	case r.isLocal():
		return r.local.PostOneWay(r.name, sender, payload)

	default:
		frame := EncodeFrame(sender, r.name, payload)
		return r.env.outboxSendOneWay(r.remoteAddr, frame)
	}
}

// Ask delivers payload as a request and returns a Future for the reply.
// Local references get a Future backed by an in-process Promise; remote
// references get a Future whose completion is driven by the outbox's
// transport callback; bound-client references write directly to the client,
// bypassing outbox lookup while still enforcing one-writer-at-a-time at the
// transport layer (the bound client itself serializes its own writes).
func (r *EndpointReference) Ask(ctx context.Context, payload []byte) Future[[]byte] {
	sender := r.senderAddress()
	corrID := newCorrelationID()
	log.TraceS(ctx, "Routing ask", "endpoint", r.name,
		"addr", r.remoteAddr.String(), "corr_id", corrID)

	switch {
	case r.boundClient != nil:
		promise := NewPromise[[]byte]()
		frame := EncodeFrame(sender, r.name, payload)
		r.boundClient.SendRPC(frame, func(resp []byte, err error) {
			if err != nil {
				promise.Complete(errBytes(err))
				return
			}
			promise.Complete(okBytes(resp))
		})
		return promise.Future()

	case r.isLocal():
		return r.local.PostLocal(ctx, r.name, sender, payload)

	default:
		frame := EncodeFrame(sender, r.name, payload)
		return r.env.outboxAsk(r.remoteAddr, frame)
	}
}

// AskWithTimeout layers a timeout on top of Ask: it derives a
// context.WithTimeout from ctx, resolves the Ask future under that deadline,
// and hands back an already-resolved Future carrying the outcome. The
// timeout lives entirely at the context/future layer; the runtime tracks no
// per-message deadlines. A deadline that elapses before the reply arrives
// surfaces as ErrTimeout.
func (r *EndpointReference) AskWithTimeout(
	ctx context.Context, payload []byte, timeout time.Duration,
) Future[[]byte] {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	future := r.Ask(ctx, payload)
	result := future.Await(timeoutCtx)
	return completedFuture(result)
}

// senderAddress returns the local environment's listen address, or the
// client-only sentinel when this reference has no owning environment with a
// server (e.g. a bound-client reference created directly by a caller).
func (r *EndpointReference) senderAddress() Address {
	if r.env != nil {
		return r.env.localAddr
	}
	if r.local != nil {
		return r.local.localAddr
	}
	return ClientOnlyAddress
}
