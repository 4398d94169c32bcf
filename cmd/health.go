package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/hazard-risk/internal/monitoring"
	"github.com/sells-group/hazard-risk/internal/orchestrator"
)

var healthOutput string

// healthResult is one probe round plus the resulting report.
type healthResult struct {
	Probes []monitoring.ProbeResult  `json:"probes"`
	Report orchestrator.HealthReport `json:"report"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every configured source once and report health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, err := newEngine(ctx, cfg, engineOptions{Monitor: true})
		if err != nil {
			return err
		}
		defer eng.Close()

		probes := eng.Monitor.ProbeAll(ctx)
		return writeOutput(cmd.OutOrStdout(), healthOutput, healthResult{
			Probes: probes,
			Report: eng.Manager.Health(),
		})
	},
}

func init() {
	healthCmd.Flags().StringVarP(&healthOutput, "output", "o", "json", "output format: json or yaml")
	rootCmd.AddCommand(healthCmd)
}
