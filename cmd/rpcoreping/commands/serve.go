package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/roasbeef/rpcore/internal/baselib/rpcore"
	"github.com/roasbeef/rpcore/internal/rpctransport"
	"github.com/spf13/cobra"
)

var (
	serveListenAddr string
	serveEndpoint   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an RpcEnvironment serving an echo endpoint over gRPC",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(
		&serveListenAddr, "listen", "localhost:10420",
		"host:port to listen on",
	)
	serveCmd.Flags().StringVar(
		&serveEndpoint, "endpoint", "echo",
		"name to register the demo endpoint under",
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	closer := setupLogging()
	defer closer()

	local, err := hostPortToAddress(serveListenAddr)
	if err != nil {
		return fmt.Errorf("parsing --listen: %w", err)
	}

	env, err := rpcore.NewRpcEnvironment(rpcore.EnvironmentConfig{
		LocalAddr:     local,
		ClientFactory: rpctransport.NewFactory(rpctransport.ClientConfig{Local: local}),
	})
	if err != nil {
		return fmt.Errorf("creating environment: %w", err)
	}

	if _, err := env.Register(serveEndpoint, &echoEndpoint{}); err != nil {
		return fmt.Errorf("registering %q: %w", serveEndpoint, err)
	}

	server := rpctransport.NewServer(rpctransport.ServerConfig{
		ListenAddr: serveListenAddr,
		Local:      local,
	}, rpcore.NewInboundHandler(env.Dispatcher()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	go func() {
		<-ctx.Done()
		_ = server.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(), shutdownGrace,
		)
		defer shutdownCancel()
		if err := env.Shutdown(shutdownCtx); err != nil {
			log.Printf("Environment shutdown incomplete: %v", err)
		}
	}()

	log.Printf("rpcoreping serving %q on %s", serveEndpoint, serveListenAddr)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
