package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/rpcore/internal/baselib/rpcore"
	"github.com/roasbeef/rpcore/internal/rpctransport"
	"github.com/spf13/cobra"
)

var (
	pingTarget   string
	pingEndpoint string
	pingMessage  string
	pingTimeout  time.Duration
	pingOneWay   bool
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Ask a remote rpcoreping endpoint and print the reply",
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().StringVar(
		&pingTarget, "target", "localhost:10420",
		"host:port of the remote rpcoreping to dial",
	)
	pingCmd.Flags().StringVar(
		&pingEndpoint, "endpoint", "echo",
		"remote endpoint name to address",
	)
	pingCmd.Flags().StringVar(
		&pingMessage, "message", "hello",
		"payload to send",
	)
	pingCmd.Flags().DurationVar(
		&pingTimeout, "timeout", 5*time.Second,
		"how long to wait for a reply",
	)
	pingCmd.Flags().BoolVar(
		&pingOneWay, "one-way", false,
		"send without waiting for a reply",
	)
}

func runPing(cmd *cobra.Command, args []string) error {
	closer := setupLogging()
	defer closer()

	remote, err := hostPortToAddress(pingTarget)
	if err != nil {
		return fmt.Errorf("parsing --target: %w", err)
	}

	env, err := rpcore.NewRpcEnvironment(rpcore.EnvironmentConfig{
		LocalAddr: rpcore.ClientOnlyAddress,
		ClientFactory: rpctransport.NewFactory(rpctransport.ClientConfig{
			Local: rpcore.ClientOnlyAddress,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating environment: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = env.Shutdown(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	ref := env.EndpointRefFor(pingEndpoint, remote)

	if pingOneWay {
		if err := ref.Send(ctx, []byte(pingMessage)); err != nil {
			return fmt.Errorf("sending: %w", err)
		}
		fmt.Println("sent")
		return nil
	}

	future := ref.Ask(ctx, []byte(pingMessage))
	result := future.Await(ctx)

	payload, err := result.Unpack()
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	fmt.Printf("reply: %s\n", payload)
	return nil
}
