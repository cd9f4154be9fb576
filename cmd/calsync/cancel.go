package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var cancelServer string

// cancelCmd creates the "cancel" subcommand.
func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Stop a run started through a running calsync server",
		Long: `Ask the server started with "calsync serve" to stop a running session.
Pools already stored are kept. Runs started with "calsync run" stop on Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: runCancel,
	}
	cmd.Flags().StringVar(&cancelServer, "server", "", "server base URL (default http://localhost:<api.port>)")
	return cmd
}

func runCancel(cmd *cobra.Command, args []string) error {
	base := cancelServer
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base = fmt.Sprintf("http://localhost:%d", cfg.API.Port)
	}
	endpoint := strings.TrimRight(base, "/") + "/api/v1/scraper/cancel?session_id=" + url.QueryEscape(args[0])

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusAccepted {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("cancel %s: %s (HTTP %d)", args[0], apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("cancel %s: HTTP %d", args[0], resp.StatusCode)
	}
	fmt.Printf("🛑 Cancelling %s\n", args[0])
	return nil
}
