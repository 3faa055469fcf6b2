package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebastianbartmann/notes-editor-sub001/internal/background"
	"github.com/sebastianbartmann/notes-editor-sub001/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync and index status of the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := newAPIClient("")

	var ss background.SyncStatus
	if err := c.do(ctx, "GET", "/api/v1/sync/status", nil, &ss); err != nil {
		return err
	}
	var is background.IndexStatus
	if err := c.do(ctx, "GET", "/api/v1/index/status", nil, &is); err != nil {
		return err
	}

	now := time.Now()
	table := ui.Table([]string{"Component", "State", "Last success", "Last error"})
	for _, row := range [][]string{syncRow(ss, now), indexRow(is, now)} {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if syncState(ss) == "failed" {
		ui.Warning("sync: %s", ss.LastError)
	}
	if indexState(is) == "failed" {
		ui.Warning("index: %s", is.LastError)
	}
	return nil
}

// failedSince reports whether the last error is newer than the last success.
func failedSince(lastErr, lastOK *time.Time) bool {
	return lastErr != nil && (lastOK == nil || lastErr.After(*lastOK))
}

func lastSyncSuccess(s background.SyncStatus) *time.Time {
	last := s.LastPullAt
	if s.LastPushAt != nil && (last == nil || s.LastPushAt.After(*last)) {
		last = s.LastPushAt
	}
	return last
}

func syncState(s background.SyncStatus) string {
	switch {
	case s.InProgress:
		return "running"
	case s.PendingPull || s.PendingPush:
		return "pending"
	case failedSince(s.LastErrorAt, lastSyncSuccess(s)):
		return "failed"
	}
	return "idle"
}

func syncRow(s background.SyncStatus, now time.Time) []string {
	last := lastSyncSuccess(s)
	return []string{"sync", output.StateColor(syncState(s)), output.Ago(last, now), output.Ago(s.LastErrorAt, now)}
}

func indexState(s background.IndexStatus) string {
	switch {
	case s.InProgress:
		return "running"
	case s.Pending:
		return "pending"
	case failedSince(s.LastErrorAt, s.LastSuccessAt):
		return "failed"
	case s.LastStartedAt == nil:
		return "disabled"
	}
	return "idle"
}

func indexRow(s background.IndexStatus, now time.Time) []string {
	return []string{"index", output.StateColor(indexState(s)), output.Ago(s.LastSuccessAt, now), output.Ago(s.LastErrorAt, now)}
}
