package commands

import (
	"context"
	"fmt"

	"github.com/roasbeef/rpcore/internal/baselib/rpcore"
)

// echoEndpoint is the demo endpoint served by `rpcoreping serve`: it answers
// every request by prefixing the payload with the sender's address, and logs
// one-way sends to stdout.
type echoEndpoint struct{}

func (e *echoEndpoint) OnStart(ctx context.Context) {}
func (e *echoEndpoint) OnStop(ctx context.Context)  {}

func (e *echoEndpoint) OnConnected(addr rpcore.Address)               {}
func (e *echoEndpoint) OnDisconnected(addr rpcore.Address)            {}
func (e *echoEndpoint) OnNetworkError(addr rpcore.Address, err error) {}

func (e *echoEndpoint) Receive(ctx context.Context, sender rpcore.Address, payload []byte) {
	fmt.Printf("echo: one-way from %s: %q\n", sender, payload)
}

func (e *echoEndpoint) ReceiveAndReply(
	ctx context.Context, sender rpcore.Address, payload []byte,
	reply rpcore.ReplyContext,
) {
	reply.Reply(fmt.Appendf(nil, "%s: %s", sender, payload))
}

func (e *echoEndpoint) OnError(err error) {
	fmt.Printf("echo: endpoint error: %v\n", err)
}
