package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jmylchreest/encodr/internal/health"
)

var (
	healthAddr    string
	healthService string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a running server's gRPC health service",
	Long: `Query the standard gRPC health service of a running encodr server and
print the response as JSON. The exit status is non-zero unless the server
reports SERVING, which makes the command usable as a container healthcheck.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "health service address (default grpc.address)")
	healthCmd.Flags().StringVar(&healthService, "service", health.ServiceName, "service name to check, empty for the server as a whole")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "request timeout")
}

func runHealth(cmd *cobra.Command, _ []string) error {
	addr := healthAddr
	if addr == "" {
		addr = viper.GetString("grpc.address")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	resp, err := health.Check(ctx, addr, healthService)
	if err != nil {
		return err
	}
	out, err := health.FormatJSON(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s reports %s", addr, resp.GetStatus())
	}
	return nil
}
