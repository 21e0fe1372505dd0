package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusProjectID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the StatusProjection for a project's execution",
	RunE: func(c *cobra.Command, args []string) error {
		if statusProjectID == "" {
			return fmt.Errorf("-p/--project is required")
		}
		result, code, err := getJSON("/api/devteam/automation/status/" + statusProjectID)
		if err != nil {
			return err
		}
		if code >= 400 {
			return fmt.Errorf("server returned %d: %v", code, result)
		}
		printResult(result)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusProjectID, "project", "p", "", "project ID (org/repo)")
	rootCmd.AddCommand(statusCmd)
}
