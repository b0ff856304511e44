package rpcore

import "context"

// InboundHandler is the single entry point a transport server implementation
// calls for every inbound frame: decode sender/name/payload from the wire,
// then either PostOneWay (no reply expected) or PostRemote (reply expected,
// via respond). The handler never touches an Inbox directly; Dispatcher is
// the sole entry point remote traffic has into the runtime.
type InboundHandler interface {
	// HandleOneWay delivers a one-way frame from sender addressed to
	// name.
	HandleOneWay(ctx context.Context, sender Address, name string, payload []byte)

	// HandleRequest delivers a request/response frame from sender
	// addressed to name. respond must be called exactly once, with
	// either the response payload or a transport-level error.
	HandleRequest(
		ctx context.Context, sender Address, name string, payload []byte,
		respond func(resp []byte, err error),
	)
}

// dispatcherInboundHandler adapts a Dispatcher to InboundHandler. It is the
// handler every concrete transport.Server (e.g. internal/rpctransport's
// gRPC server) is constructed with.
type dispatcherInboundHandler struct {
	dispatcher *Dispatcher
}

// NewInboundHandler returns the InboundHandler a transport server should
// drive requests through to reach dispatcher's registered endpoints.
func NewInboundHandler(dispatcher *Dispatcher) InboundHandler {
	return &dispatcherInboundHandler{dispatcher: dispatcher}
}

func (h *dispatcherInboundHandler) HandleOneWay(
	_ context.Context, sender Address, name string, payload []byte,
) {
	if err := h.dispatcher.PostOneWay(name, sender, payload); err != nil {
		log.WarnS(context.Background(), "Inbound one-way post failed", err,
			"endpoint", name, "sender", sender.String())
	}
}

func (h *dispatcherInboundHandler) HandleRequest(
	_ context.Context, sender Address, name string, payload []byte,
	respond func(resp []byte, err error),
) {
	h.dispatcher.PostRemote(name, sender, payload, respond)
}

// Server is the contract a concrete transport implementation fulfills to
// accept inbound connections on behalf of an RpcEnvironment. This interface
// is the seam internal/rpctransport's gRPC server plugs into; rpcore itself
// never dials or listens.
type Server interface {
	// Serve blocks accepting connections and dispatching inbound frames
	// to its InboundHandler until ctx is cancelled or an unrecoverable
	// error occurs.
	Serve(ctx context.Context) error

	// Addr returns the rpcore Address this server advertises to peers.
	Addr() Address

	// Close stops accepting new connections and tears down any already
	// open.
	Close() error
}
