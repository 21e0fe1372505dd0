// Package cmd implements runnerctl, the operator CLI for the Automation
// API (§4.J). Grounded on the kindling example's cli/cmd/root.go shape:
// a package-level rootCmd with persistent flags, subcommands registered
// from init(), and an Execute() entry point called from main.
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverAddr is the devteam-runner Automation API base URL.
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "runnerctl",
	Short: "runnerctl — operate a devteam-runner Automation API",
	Long: `runnerctl drives a running devteam-runner process over its
Automation API (§4.J): start an execution, inspect its status, and
pause/resume/stop it.

Common workflow:

  runnerctl initialize -p org/repo -r https://github.com/org/repo.git
  runnerctl status -p org/repo
  runnerctl pause -p org/repo
  runnerctl resume -p org/repo
  runnerctl stop -p org/repo`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "http://localhost:8080", "devteam-runner Automation API base URL")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("runnerctl error: %w", err)
	}
	return nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func postJSON(path string, body interface{}) (map[string]interface{}, int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
	}
	resp, err := httpClient.Post(serverAddr+path, "application/json", &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func getJSON(path string) (map[string]interface{}, int, error) {
	resp, err := httpClient.Get(serverAddr + path)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (map[string]interface{}, int, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	var out map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, resp.StatusCode, nil
}

func printResult(v map[string]interface{}) {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(pretty))
}
