package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func controlCommand(use, short, path string) *cobra.Command {
	var projectID string
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("-p/--project is required")
			}
			result, code, err := postJSON(path+projectID, nil)
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
	c.Flags().StringVarP(&projectID, "project", "p", "", "project ID (org/repo)")
	return c
}

func init() {
	rootCmd.AddCommand(controlCommand("pause", "Pause a project's running execution (§4.J POST /pause)", "/api/devteam/automation/pause/"))
	rootCmd.AddCommand(controlCommand("resume", "Resume a project's paused execution (§4.J POST /resume)", "/api/devteam/automation/resume/"))
	rootCmd.AddCommand(controlCommand("stop", "Stop a project's live execution (§4.J POST /stop)", "/api/devteam/automation/stop/"))
}
