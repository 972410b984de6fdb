package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/coachpage/pkg/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database and broker health",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil {
			return fmt.Errorf("app not initialized")
		}
		if app.Health == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		}

		health := app.Health.GetOverallHealth(cmd.Context())
		for name, check := range health.Checks {
			line := fmt.Sprintf("%-10s %s", name, check.Status)
			if check.Message != "" {
				line += " (" + check.Message + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "overall    %s\n", health.Status)
		if health.Status == observability.HealthStatusUnhealthy {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
