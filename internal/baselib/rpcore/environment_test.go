package rpcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestEnvironmentLocalRoundTrip verifies that EndpointRefFor against the
// environment's own address routes through the local Dispatcher, with no
// Outbox ever created.
func TestEnvironmentLocalRoundTrip(t *testing.T) {
	t.Parallel()

	addr := testAddr(20000)
	env, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: addr})
	require.NoError(t, err)
	defer env.Shutdown(context.Background())

	ep := &recordingEndpoint{}
	_, err = env.Register("echo", ep)
	require.NoError(t, err)

	ref := env.EndpointRefFor("echo", addr)
	future := ref.Ask(context.Background(), []byte("ping"))

	result := future.Await(context.Background())
	payload, err := result.Unpack()
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(payload))
}

// silentEndpoint accepts requests but never completes their reply context,
// so asks against it only ever resolve through the future layer's timeout.
type silentEndpoint struct {
	recordingEndpoint
}

func (e *silentEndpoint) ReceiveAndReply(
	ctx context.Context, sender Address, payload []byte, reply ReplyContext,
) {
}

// TestAskWithTimeoutExpires verifies that AskWithTimeout resolves with
// ErrTimeout when the endpoint never replies, without any runtime state
// beyond the context deadline.
func TestAskWithTimeoutExpires(t *testing.T) {
	t.Parallel()

	addr := testAddr(20003)
	env, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: addr})
	require.NoError(t, err)
	defer env.Shutdown(context.Background())

	ref, err := env.Register("mute", &silentEndpoint{})
	require.NoError(t, err)

	future := ref.AskWithTimeout(
		context.Background(), []byte("anyone there"), 50*time.Millisecond,
	)
	result := future.Await(context.Background())
	_, err = result.Unpack()
	require.ErrorIs(t, err, ErrTimeout)
}

// TestEnvironmentRejectsReservedName verifies that user code cannot register
// the reserved verifier endpoint name.
func TestEnvironmentRejectsReservedName(t *testing.T) {
	t.Parallel()

	env, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: testAddr(20001)})
	require.NoError(t, err)
	defer env.Shutdown(context.Background())

	_, err = env.Register(reservedVerifierName, &recordingEndpoint{})
	require.ErrorIs(t, err, ErrReservedEndpointName)
}

// TestEnvironmentCheckExistenceLocal verifies CheckExistence against the
// local environment's own address reflects the current registry state
// without going through any transport.
func TestEnvironmentCheckExistenceLocal(t *testing.T) {
	t.Parallel()

	addr := testAddr(20002)
	env, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: addr})
	require.NoError(t, err)
	defer env.Shutdown(context.Background())

	exists, err := env.CheckExistence(context.Background(), "nope", addr)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = env.Register("yep", &recordingEndpoint{})
	require.NoError(t, err)

	exists, err = env.CheckExistence(context.Background(), "yep", addr)
	require.NoError(t, err)
	require.True(t, exists)
}

// remoteEnvClientFactory bridges two in-process RpcEnvironments without any
// real network transport, by handing PostRemote/PostOneWay calls straight to
// the peer's Dispatcher through its InboundHandler. This stands in for
// internal/rpctransport's gRPC client in tests that need two environments
// talking to each other.
type remoteEnvClientFactory struct {
	peer *RpcEnvironment
	self Address
}

func (f *remoteEnvClientFactory) CreateClient(
	ctx context.Context, addr Address,
) (Client, error) {
	return &inProcessClient{
		peer: f.peer,
		self: f.self,
	}, nil
}

type inProcessClient struct {
	peer *RpcEnvironment
	self Address
}

// SendOneWay and SendRPC decode the rpcore-owned frame envelope exactly as
// internal/rpctransport's gRPC server does, so this fake exercises the same
// EncodeFrame/DecodeFrame contract the real transport relies on.
func (c *inProcessClient) SendOneWay(frame []byte, onError func(err error)) {
	_, name, body, err := DecodeFrame(frame)
	if err != nil {
		onError(err)
		return
	}
	if err := c.peer.dispatcher.PostOneWay(name, c.self, body); err != nil {
		onError(err)
	}
}

func (c *inProcessClient) SendRPC(frame []byte, callback func([]byte, error)) {
	_, name, body, err := DecodeFrame(frame)
	if err != nil {
		callback(nil, err)
		return
	}
	c.peer.dispatcher.PostRemote(name, c.self, body, callback)
}

func (c *inProcessClient) Close() error { return nil }

// TestEnvironmentRemoteRoundTrip verifies a full two-environment round trip
// through the Outbox/Dispatcher boundary, using an in-process stand-in
// transport client.
func TestEnvironmentRemoteRoundTrip(t *testing.T) {
	t.Parallel()

	serverAddr := testAddr(20010)
	clientAddr := testAddr(20011)

	server, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: serverAddr})
	require.NoError(t, err)
	defer server.Shutdown(context.Background())

	ep := &recordingEndpoint{}
	_, err = server.Register("echo", ep)
	require.NoError(t, err)

	client, err := NewRpcEnvironment(EnvironmentConfig{
		LocalAddr:     clientAddr,
		ClientFactory: &remoteEnvClientFactory{peer: server, self: clientAddr},
	})
	require.NoError(t, err)
	defer client.Shutdown(context.Background())

	ref := client.EndpointRefFor("echo", serverAddr)
	future := ref.Ask(context.Background(), []byte("ping"))

	result := future.Await(context.Background())
	payload, err := result.Unpack()
	require.NoError(t, err)
	require.Equal(t, "echo:ping", string(payload))
}

// flakyConnectFactory fails its first CreateClient call, then delegates to an
// in-process client, standing in for a peer that was unreachable on the first
// connect attempt and reachable afterwards.
type flakyConnectFactory struct {
	mu       sync.Mutex
	attempts int
	peer     *RpcEnvironment
	self     Address
}

func (f *flakyConnectFactory) CreateClient(
	ctx context.Context, addr Address,
) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts == 1 {
		return nil, errors.New("connection refused")
	}
	return &inProcessClient{peer: f.peer, self: f.self}, nil
}

// TestEnvironmentOutboxFailureEvictsAndRetries covers connect-failure
// recovery: the first Ask against an unreachable peer fails with a transport
// error and the failed outbox detaches itself from the registry, so a later
// Ask constructs a fresh outbox whose connect succeeds.
func TestEnvironmentOutboxFailureEvictsAndRetries(t *testing.T) {
	t.Parallel()

	serverAddr := testAddr(20030)
	clientAddr := testAddr(20031)

	server, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: serverAddr})
	require.NoError(t, err)
	defer server.Shutdown(context.Background())

	_, err = server.Register("echo", &recordingEndpoint{})
	require.NoError(t, err)

	client, err := NewRpcEnvironment(EnvironmentConfig{
		LocalAddr:     clientAddr,
		ClientFactory: &flakyConnectFactory{peer: server, self: clientAddr},
	})
	require.NoError(t, err)
	defer client.Shutdown(context.Background())

	ref := client.EndpointRefFor("echo", serverAddr)

	result := ref.Ask(context.Background(), []byte("first")).Await(
		context.Background(),
	)
	_, err = result.Unpack()
	require.ErrorIs(t, err, ErrTransportFailure)

	// The failed outbox evicts itself asynchronously; keep asking until a
	// fresh outbox's connect succeeds and the round trip completes.
	require.Eventually(t, func() bool {
		result := ref.Ask(context.Background(), []byte("second")).Await(
			context.Background(),
		)
		payload, err := result.Unpack()
		return err == nil && string(payload) == "echo:second"
	}, 2*time.Second, 10*time.Millisecond)
}

// TestEnvironmentPostAfterShutdownFails verifies that a previously-valid
// local reference rejects traffic once the environment has been shut down,
// for both the one-way and the ask path.
func TestEnvironmentPostAfterShutdownFails(t *testing.T) {
	t.Parallel()

	env, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: testAddr(20040)})
	require.NoError(t, err)

	ref, err := env.Register("echo", &recordingEndpoint{})
	require.NoError(t, err)

	require.NoError(t, env.Shutdown(context.Background()))

	err = ref.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, ErrEnvironmentStopped)

	result := ref.Ask(context.Background(), []byte("x")).Await(
		context.Background(),
	)
	_, err = result.Unpack()
	require.ErrorIs(t, err, ErrEnvironmentStopped)
}

// TestEnvironmentShutdownStopsOutboxesAndDispatcher verifies that Shutdown
// returns promptly and that a Register issued afterward fails with
// ErrEnvironmentStopped.
func TestEnvironmentShutdownStopsOutboxesAndDispatcher(t *testing.T) {
	t.Parallel()

	addr := testAddr(20020)
	env, err := NewRpcEnvironment(EnvironmentConfig{LocalAddr: addr})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.Shutdown(ctx))

	_, err = env.Register("late", &recordingEndpoint{})
	require.ErrorIs(t, err, ErrEnvironmentStopped)
}
