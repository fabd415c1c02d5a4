package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/auditcore/fieldsync/internal/config"
	"github.com/auditcore/fieldsync/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status of the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Trigger an immediate sync pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/flush")
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset stuck queue entries so the next pass retries them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON("/api/queue/retry")
	},
}

func daemonURL(path string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Server.Port, path), nil
}

func showStatus() error {
	url, err := daemonURL("/api/status")
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	var status orchestrator.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode status: %w", err)
	}

	state := "offline"
	if status.IsOnline {
		state = "online"
	}
	if status.IsSyncing {
		state += ", syncing"
	}
	fmt.Printf("connection: %s\n", state)
	fmt.Printf("pending:    %d\n", status.PendingCount)
	fmt.Printf("stuck:      %d\n", status.StuckCount)
	fmt.Printf("photos:     %d pending, %d stuck\n", status.PhotoPending, status.PhotoStuck)
	return nil
}

func postJSON(path string) error {
	url, err := daemonURL(path)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	for k, v := range result {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}
