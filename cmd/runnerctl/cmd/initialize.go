package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initProjectID string
	initRepoURL   string
)

var initializeCmd = &cobra.Command{
	Use:   "initialize",
	Short: "Start an execution for a project (§4.J POST /initialize)",
	RunE: func(c *cobra.Command, args []string) error {
		if initProjectID == "" || initRepoURL == "" {
			return fmt.Errorf("-p/--project and -r/--repo-url are required")
		}
		result, code, err := postJSON("/api/devteam/automation/initialize", map[string]string{
			"projectId": initProjectID,
			"repoUrl":   initRepoURL,
		})
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
	initializeCmd.Flags().StringVarP(&initProjectID, "project", "p", "", "project ID (org/repo)")
	initializeCmd.Flags().StringVarP(&initRepoURL, "repo-url", "r", "", "git repository URL to clone")
	rootCmd.AddCommand(initializeCmd)
}
