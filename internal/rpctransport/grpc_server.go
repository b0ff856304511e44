package rpctransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/roasbeef/rpcore/internal/baselib/rpcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// authMetadataKey is the incoming-metadata key the stub auth interceptor
// checks for when ServerConfig.AuthenticationEnabled is set. Real credential
// validation (macaroons, mTLS, etc.) is out of scope for this core
// transport; this only bootstraps the gate.
const authMetadataKey = "authorization"

// ServerConfig configures a gRPC-backed rpcore.Server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g. "localhost:10009").
	ListenAddr string

	// Local is the Address this server advertises to peers once bound;
	// Addr() returns it.
	Local rpcore.Address

	// ServerPingTime is the duration after which the server pings the
	// client. DefaultServerConfig sets 5 minutes.
	ServerPingTime time.Duration

	// ServerPingTimeout is how long the server waits for a ping ack.
	// DefaultServerConfig sets 1 minute.
	ServerPingTimeout time.Duration

	// ClientPingMinWait is the minimum time between client pings.
	// DefaultServerConfig sets 5 seconds.
	ClientPingMinWait time.Duration

	// ClientAllowPingWithoutStream allows pings even without active
	// streams.
	ClientAllowPingWithoutStream bool

	// AuthenticationEnabled toggles the auth bootstrap interceptor at
	// server start. When
	// true, every Dispatch/Send call must carry a non-empty
	// "authorization" entry in its gRPC metadata or is rejected with
	// codes.Unauthenticated before reaching the transport handler.
	AuthenticationEnabled bool
}

// DefaultServerConfig returns a ServerConfig with sane keepalive defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:                   "localhost:10009",
		ServerPingTime:               5 * time.Minute,
		ServerPingTimeout:            1 * time.Minute,
		ClientPingMinWait:            5 * time.Second,
		ClientAllowPingWithoutStream: true,
	}
}

// Server is the default gRPC-backed implementation of rpcore.Server: it
// exposes the hand-rolled "rpcore.Transport" service and feeds every decoded
// frame to an rpcore.InboundHandler.
type Server struct {
	cfg     ServerConfig
	handler rpcore.InboundHandler

	grpcServer *grpc.Server
	listener   net.Listener

	mu      sync.RWMutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a gRPC Server that feeds inbound frames to handler.
func NewServer(cfg ServerConfig, handler rpcore.InboundHandler) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		quit:    make(chan struct{}),
	}
}

// Serve implements rpcore.Server: binds the listener, starts the gRPC
// server, and blocks until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("rpctransport: server already started")
	}

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("rpctransport: listening on %s: %w",
			s.cfg.ListenAddr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(s.buildServerOptions()...)
	s.grpcServer.RegisterService(&serviceDesc, (*transportServerImpl)(s))
	s.started = true
	s.mu.Unlock()

	log.InfoS(ctx, "rpc transport listening", "addr", s.cfg.ListenAddr)

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	case err := <-errCh:
		select {
		case <-s.quit:
			return nil
		default:
			return err
		}
	}
}

// Addr implements rpcore.Server.
func (s *Server) Addr() rpcore.Address {
	return s.cfg.Local
}

// ListenerAddr returns the address the listener actually bound to, which
// may differ from cfg.ListenAddr when that used the ":0" ephemeral-port
// form. It is only meaningful once Serve has begun listening.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close implements rpcore.Server: gracefully stops the gRPC server.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.quit)
	server := s.grpcServer
	s.mu.Unlock()

	server.GracefulStop()
	s.wg.Wait()
	return nil
}

func (s *Server) buildServerOptions() []grpc.ServerOption {
	serverKeepalive := keepalive.ServerParameters{
		Time:    s.cfg.ServerPingTime,
		Timeout: s.cfg.ServerPingTimeout,
	}
	clientKeepalive := keepalive.EnforcementPolicy{
		MinTime:             s.cfg.ClientPingMinWait,
		PermitWithoutStream: s.cfg.ClientAllowPingWithoutStream,
	}

	// Chain logging -> auth, so logging always sees the call, even one
	// auth later rejects.
	interceptors := []grpc.UnaryServerInterceptor{s.loggingUnaryInterceptor}
	if s.cfg.AuthenticationEnabled {
		interceptors = append(interceptors, s.authUnaryInterceptor)
	}

	return []grpc.ServerOption{
		grpc.ForceServerCodec(rawCodec{}),
		grpc.KeepaliveParams(serverKeepalive),
		grpc.KeepaliveEnforcementPolicy(clientKeepalive),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
}

// authUnaryInterceptor is the stub auth bootstrap gated by
// ServerConfig.AuthenticationEnabled: it rejects any call missing a
// non-empty "authorization" metadata entry. It carries no notion of what a
// valid credential looks like; wiring a real verifier is left to callers
// that need one.
func (s *Server) authUnaryInterceptor(
	ctx context.Context, req any, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md.Get(authMetadataKey)) == 0 {
		return nil, status.Error(codes.Unauthenticated,
			"missing authorization metadata")
	}
	return handler(ctx, req)
}

// loggingUnaryInterceptor logs every Dispatch/Send call with its method,
// duration and outcome.
func (s *Server) loggingUnaryInterceptor(
	ctx context.Context, req any, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log.DebugS(ctx, "rpc transport call completed",
		"method", info.FullMethod, "duration", time.Since(start),
		"error", err)
	return resp, err
}

// transportServerImpl adapts *Server to the transportServer interface
// codec.go's hand-rolled ServiceDesc dispatches into. It is a distinct named
// type (rather than methods on Server directly) so RegisterService's
// HandlerType assertion binds to exactly the two RPCs this service defines.
type transportServerImpl Server

func (s *transportServerImpl) Dispatch(ctx context.Context, req []byte) ([]byte, error) {
	sender, name, payload, err := rpcore.DecodeFrame(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	respCh := make(chan []byte, 1)
	errCh := make(chan error, 1)

	(*Server)(s).handler.HandleRequest(ctx, sender, name, payload,
		func(resp []byte, err error) {
			if err != nil {
				errCh <- err
				return
			}
			respCh <- resp
		})

	select {
	case resp := <-respCh:
		return resp, nil
	case err := <-errCh:
		return nil, status.Error(codes.Internal, err.Error())
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

func (s *transportServerImpl) Send(ctx context.Context, req []byte) ([]byte, error) {
	sender, name, payload, err := rpcore.DecodeFrame(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	(*Server)(s).handler.HandleOneWay(ctx, sender, name, payload)
	return nil, nil
}
