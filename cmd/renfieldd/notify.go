package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// notifyCmd sends a one-off test notification through a running
// renfieldd's webhook endpoint (spec §4.14 "Ingest contract"),
// exercising the same path an external event source would use.
func notifyCmd() *cobra.Command {
	var (
		addr      string
		token     string
		eventType string
		title     string
		message   string
		urgency   string
		room      string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification through the running daemon's webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("NOTIFICATION_WEBHOOK_TOKEN")
			}

			body, err := json.Marshal(map[string]any{
				"event_type": eventType,
				"title":      title,
				"message":    message,
				"urgency":    urgency,
				"room_name":  room,
			})
			if err != nil {
				return fmt.Errorf("encode webhook body: %w", err)
			}

			url := fmt.Sprintf("http://%s/api/notifications/webhook", addr)
			req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("webhook request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
			}
			fmt.Printf("notification accepted (HTTP %d)\n", resp.StatusCode)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "renfieldd HTTP address")
	cmd.Flags().StringVar(&token, "token", "", "webhook bearer token (or set NOTIFICATION_WEBHOOK_TOKEN)")
	cmd.Flags().StringVar(&eventType, "event-type", "cli.test", "event type reported to the Notification Service")
	cmd.Flags().StringVar(&title, "title", "Test notification", "notification title")
	cmd.Flags().StringVar(&message, "message", "Sent via renfieldd notify", "notification body")
	cmd.Flags().StringVar(&urgency, "urgency", "auto", "urgency: critical, info, low, or auto")
	cmd.Flags().StringVar(&room, "room", "", "target room name (empty = broadcast)")

	return cmd
}
