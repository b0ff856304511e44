package rpcore

import "context"

// Endpoint is a long-lived, single-threaded actor addressed by name within a
// node. The Dispatcher guarantees no two callbacks of the same Endpoint ever
// run concurrently, and that callbacks are invoked in the order their
// triggering items were posted.
type Endpoint interface {
	// OnStart is invoked once, before any other callback, when the
	// endpoint's inbox processes its implicit OnStart item.
	OnStart(ctx context.Context)

	// OnStop is invoked once the inbox has been told to stop and every
	// item posted before the stop request has been delivered. No further
	// callbacks are invoked after OnStop returns.
	OnStop(ctx context.Context)

	// OnConnected notifies the endpoint that the outbox for addr has
	// established a live transport client.
	OnConnected(addr Address)

	// OnDisconnected notifies the endpoint that the outbox for addr lost
	// its transport client.
	OnDisconnected(addr Address)

	// OnNetworkError notifies the endpoint of a transport failure
	// involving addr that was not tied to a specific reply context.
	OnNetworkError(addr Address, err error)

	// Receive handles a one-way message. No reply is expected or
	// possible.
	Receive(ctx context.Context, sender Address, payload []byte)

	// ReceiveAndReply handles a request message. Exactly one of
	// reply.Reply or reply.Fail must be invoked, either by this call or
	// by the Inbox on the endpoint's behalf if the call panics.
	ReceiveAndReply(
		ctx context.Context, sender Address, payload []byte,
		reply ReplyContext,
	)

	// OnError is invoked by the Inbox when Receive or ReceiveAndReply
	// panics. It does not stop the inbox.
	OnError(err error)
}

// ReplyContext is a single-shot capability completing an RPC reply either
// locally (resolving an in-process Future) or remotely (invoking a
// transport-layer response callback). Exactly one of Reply or Fail may be
// invoked; subsequent calls are no-ops.
type ReplyContext interface {
	// Reply completes the reply context successfully with payload.
	Reply(payload []byte)

	// Fail completes the reply context with an error.
	Fail(err error)
}

// MailboxItem is the sealed interface for items an Inbox may queue. Concrete
// variants are defined in items.go; only this package can implement it.
type MailboxItem interface {
	isMailboxItem()
}

// OutboxItem is the sealed interface for items an Outbox may queue.
type OutboxItem interface {
	isOutboxItem()
}
