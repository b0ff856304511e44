package rpcore

import "sync"

// onStartItem is the lifecycle marker every Inbox enqueues on creation.
type onStartItem struct{}

func (onStartItem) isMailboxItem() {}

// onStopItem is the lifecycle marker Inbox.stop appends to request shutdown.
type onStopItem struct{}

func (onStopItem) isMailboxItem() {}

// oneWayItem carries a fire-and-forget message; no reply is expected.
type oneWayItem struct {
	sender  Address
	payload []byte
}

func (oneWayItem) isMailboxItem() {}

// rpcItem carries a request message whose reply must be completed through
// reply exactly once.
type rpcItem struct {
	sender  Address
	payload []byte
	reply   ReplyContext
}

func (rpcItem) isMailboxItem() {}

// remoteConnectedItem broadcasts that the outbox for addr obtained a live
// transport client.
type remoteConnectedItem struct {
	addr Address
}

func (remoteConnectedItem) isMailboxItem() {}

// remoteDisconnectedItem broadcasts that the outbox for addr lost its
// transport client.
type remoteDisconnectedItem struct {
	addr Address
}

func (remoteDisconnectedItem) isMailboxItem() {}

// remoteFailureItem broadcasts a transport failure not tied to a specific
// reply context.
type remoteFailureItem struct {
	addr Address
	err  error
}

func (remoteFailureItem) isMailboxItem() {}

// failReplyIfPresent fails the reply context embedded in item, if any. Used
// when an Inbox rejects or drains an item without ever handing it to the
// endpoint.
func failReplyIfPresent(item MailboxItem, err error) {
	if rpc, ok := item.(rpcItem); ok && rpc.reply != nil {
		rpc.reply.Fail(err)
	}
}

// --- Reply contexts -------------------------------------------------------

// localReplyContext completes an in-process Promise[[]byte]. Exactly one of
// Reply/Fail takes effect; later calls are no-ops because Promise.Complete
// only honors its first caller. Completion itself runs on the Dispatcher's
// bounded local-ask completion pool (deliver) rather than inline on whatever
// goroutine called Reply/Fail (typically a dispatcher worker mid-process()),
// so a slow consumer cannot stall ready-queue workers.
type localReplyContext struct {
	promise Promise[[]byte]
	deliver func(func())
	once    sync.Once
}

func newLocalReplyContext(
	promise Promise[[]byte], deliver func(func()),
) *localReplyContext {
	return &localReplyContext{promise: promise, deliver: deliver}
}

func (r *localReplyContext) Reply(payload []byte) {
	r.once.Do(func() {
		r.deliver(func() { r.promise.Complete(okBytes(payload)) })
	})
}

func (r *localReplyContext) Fail(err error) {
	r.once.Do(func() {
		r.deliver(func() { r.promise.Complete(errBytes(err)) })
	})
}

// remoteReplyContext adapts an endpoint's Reply/Fail calls into a
// transport-layer response callback, e.g. the wire reply callback a gRPC
// handler supplied when the request arrived over the network.
type remoteReplyContext struct {
	callback func(payload []byte, err error)
	once     sync.Once
}

func newRemoteReplyContext(
	callback func(payload []byte, err error),
) *remoteReplyContext {
	return &remoteReplyContext{callback: callback}
}

func (r *remoteReplyContext) Reply(payload []byte) {
	r.once.Do(func() {
		r.callback(payload, nil)
	})
}

func (r *remoteReplyContext) Fail(err error) {
	r.once.Do(func() {
		r.callback(nil, err)
	})
}

// --- Outbox items ----------------------------------------------------------

// oneWayOutboxItem carries a pre-serialized frame with no completion
// callback.
type oneWayOutboxItem struct {
	frame []byte
}

func (oneWayOutboxItem) isOutboxItem() {}

// rpcOutboxItem carries a pre-serialized frame whose callback is fulfilled
// with the response bytes, or a transport error.
type rpcOutboxItem struct {
	frame    []byte
	callback func(payload []byte, err error)
}

func (rpcOutboxItem) isOutboxItem() {}

// checkExistenceOutboxItem probes a remote verifier endpoint for the
// existence of name. frame is a pre-encoded EncodeFrame envelope routed at
// the reserved verifier endpoint, built the same way reference.go builds
// every other outbox item's frame; callback receives the boolean answer or a
// transport error.
type checkExistenceOutboxItem struct {
	frame    []byte
	callback func(exists bool, err error)
}

func (checkExistenceOutboxItem) isOutboxItem() {}
