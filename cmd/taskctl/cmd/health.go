package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the task service",
	Long:  `Check the health of the task service through its /healthz endpoint, which pings the task store.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var st struct {
			OK      bool   `json:"ok"`
			Message string `json:"message"`
		}
		err := doRequest(cmd.Context(), http.MethodGet, "/healthz", nil, &st)
		if outputJSON && err == nil {
			return printJSON(cmd.OutOrStdout(), st)
		}
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "✗ Service is unhealthy: %v\n", err)
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Service is healthy")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
