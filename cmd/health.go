package cmd

import (
	"context"
	"fmt"

	"github.com/ginjaninja78/payment-import/internal/health"
	"github.com/ginjaninja78/payment-import/internal/remote"
	"github.com/spf13/cobra"
)

// healthCmd probes the loan service once. It exits non-zero when offline so
// it can back container or cron health checks.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the loan-servicing service once",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := remote.New(mainConfig.Service, mainConfig.Health.Timeout)
		st := health.NewMonitor(client, mainConfig.Health).Check(context.Background())

		fmt.Fprintf(cmd.OutOrStdout(), "Service:  %s\n", mainConfig.Service.BaseURL)
		fmt.Fprintf(cmd.OutOrStdout(), "State:    %s\n", st.State)
		fmt.Fprintf(cmd.OutOrStdout(), "Latency:  %dms\n", st.LatencyMS)
		if st.State != health.StateOnline {
			return fmt.Errorf("loan service is offline: %s", st.LastError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
