package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/copilot-relay/internal/health"
)

var (
	healthcheckAddr string
	healthcheckWait time.Duration
)

// healthcheckCmd exits non-zero unless the running server reports SERVING.
// Suited to container HEALTHCHECK directives.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Query the gRPC health endpoint of a running server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := healthcheckAddr
		if addr == "" {
			port := os.Getenv("GRPC_PORT")
			if port == "" {
				port = "9090"
			}
			addr = "localhost:" + port
		}

		cfg := health.DefaultClientConfig(addr)
		cfg.ConnectTimeout = 3 * time.Second
		client, err := health.Dial(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		if healthcheckWait > 0 {
			ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckWait)
			defer cancel()
			if err := client.WaitServing(ctx, health.ServiceName); err != nil {
				return fmt.Errorf("server did not become ready: %w", err)
			}
		}

		status, err := client.Check(cmd.Context(), health.ServiceName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status.String())
		if status != grpc_health_v1.HealthCheckResponse_SERVING {
			return fmt.Errorf("server is %s", status)
		}
		return nil
	},
}

func init() {
	healthcheckCmd.Flags().DurationVar(&healthcheckWait, "wait", 0, "wait up to this long for SERVING")
	healthcheckCmd.Flags().StringVar(&healthcheckAddr, "addr", "", "health server address (defaults to localhost:$GRPC_PORT)")
}
