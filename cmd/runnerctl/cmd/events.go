package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var eventsTailProjectID string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the event stream",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Tail the WebSocket Fabric for a project (§4.K) until interrupted",
	RunE: func(c *cobra.Command, args []string) error {
		if eventsTailProjectID == "" {
			return fmt.Errorf("-p/--project is required")
		}

		wsURL := strings.Replace(serverAddr, "http://", "ws://", 1)
		wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
		u, err := url.Parse(wsURL + "/ws/devteam")
		if err != nil {
			return fmt.Errorf("parse server URL: %w", err)
		}

		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", u.String(), err)
		}
		defer conn.Close()

		subscribe := map[string]map[string]string{"subscribe": {"projectId": eventsTailProjectID}}
		if err := conn.WriteJSON(subscribe); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return fmt.Errorf("read frame: %w", err)
			}
			pretty, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Println(string(pretty))
		}
	},
}

func init() {
	eventsTailCmd.Flags().StringVarP(&eventsTailProjectID, "project", "p", "", "project ID (org/repo)")
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(eventsCmd)
}
