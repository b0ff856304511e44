package rpcore

import (
	"context"
	"strings"
)

// verifierEndpoint backs the reserved "__rpcore_verifier__" endpoint every
// RpcEnvironment registers on startup to answer remote existence probes. Its
// wire contract is deliberately primitive: a request payload of the form
// "check-existence:<name>" answered with a single byte, 1 or 0.
type verifierEndpoint struct {
	dispatcher *Dispatcher
}

func newVerifierEndpoint(dispatcher *Dispatcher) *verifierEndpoint {
	return &verifierEndpoint{dispatcher: dispatcher}
}

func (v *verifierEndpoint) OnStart(ctx context.Context) {}
func (v *verifierEndpoint) OnStop(ctx context.Context)  {}

func (v *verifierEndpoint) OnConnected(addr Address)            {}
func (v *verifierEndpoint) OnDisconnected(addr Address)         {}
func (v *verifierEndpoint) OnNetworkError(addr Address, err error) {}

// Receive is unused: every existence check expects a reply, so callers
// always go through ReceiveAndReply.
func (v *verifierEndpoint) Receive(
	ctx context.Context, sender Address, payload []byte,
) {
}

func (v *verifierEndpoint) ReceiveAndReply(
	ctx context.Context, sender Address, payload []byte, reply ReplyContext,
) {
	const prefix = "check-existence:"

	text := string(payload)
	if !strings.HasPrefix(text, prefix) {
		reply.Fail(ErrInvalidAddress)
		return
	}

	name := strings.TrimPrefix(text, prefix)
	_, _, exists := v.dispatcher.lookup(name)

	if exists {
		reply.Reply([]byte{1})
	} else {
		reply.Reply([]byte{0})
	}
}

func (v *verifierEndpoint) OnError(err error) {
	log.WarnS(context.Background(), "Verifier endpoint error", err)
}
