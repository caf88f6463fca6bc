package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/exposurekeys/keyserver/internal/keyserver/app"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/db/models"
	"github.com/exposurekeys/keyserver/internal/keyserver/timebucket"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSyncLogCmd() *cobra.Command {
	var (
		gateway string
		since   string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "synclog",
		Short: "Show recent federation sync log entries",
		Long: `Show federation sync log entries, newest first.

Examples:
  # Entries of the last day
  keyserver synclog

  # The last 20 entries of one gateway in the past week
  keyserver synclog --gateway efgs --since 7d --limit 20 -j`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := config.ParseDuration(since)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			clock := timebucket.SystemClock{}
			store, err := app.OpenStore(ctx, config.Config(), clock)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(ctx, gateway, clock.Now().Minus(d), limit)
			if err != nil {
				return err
			}
			return printSyncLog(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVarP(&gateway, "gateway", "g", "", "Only show entries of this gateway")
	cmd.Flags().StringVar(&since, "since", "24h", "How far back to look, e.g. 30m, 24h, 7d")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries, 0 for all")
	return cmd
}

type syncLogRow struct {
	ID         int64              `json:"id"`
	Gateway    string             `json:"gateway"`
	Action     models.SyncAction  `json:"action"`
	BatchTag   string             `json:"batchTag,omitempty"`
	TargetDate string             `json:"targetDate,omitempty"`
	StartedAt  string             `json:"startedAt"`
	EndedAt    string             `json:"endedAt"`
	State      models.SyncState   `json:"state"`
	Details    models.SyncDetails `json:"details"`
}

func toRows(entries []*models.SyncLogEntry) ([]syncLogRow, error) {
	rows := make([]syncLogRow, 0, len(entries))
	for _, e := range entries {
		d, err := e.GetDetails()
		if err != nil {
			return nil, fmt.Errorf("entry %d: invalid details: %w", e.ID, err)
		}
		row := syncLogRow{
			ID:        e.ID,
			Gateway:   e.Gateway,
			Action:    e.Action,
			BatchTag:  e.BatchTag,
			StartedAt: e.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			EndedAt:   e.EndedAt.UTC().Format("2006-01-02T15:04:05Z"),
			State:     e.State,
			Details:   d,
		}
		if e.TargetDate != nil {
			row.TargetDate = e.TargetDate.UTC().Format("2006-01-02")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func printSyncLog(w io.Writer, entries []*models.SyncLogEntry) error {
	rows, err := toRows(entries)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]any{"result": 1, "value": rows})
		return nil
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No sync log entries")
		return nil
	}

	fmt.Fprintf(w, "%-8s %-10s %-9s %-11s %-6s %-40s %-20s %s\n", "ID", "GATEWAY", "ACTION", "DATE", "STATE", "BATCH TAG", "STARTED", "KEYS")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	for _, r := range rows {
		state := okLabel.Sprintf("%-6s", r.State)
		if r.State == models.SyncStateError {
			state = errorLabel.Sprintf("%-6s", r.State)
		}
		keys := fmt.Sprintf("%d", r.Details.Keys)
		if r.Action == models.SyncActionUpload {
			keys = fmt.Sprintf("%d (%d accepted, %d failed)", r.Details.Keys, r.Details.Accepted, r.Details.Failed)
		}
		fmt.Fprintf(w, "%-8d %-10s %-9s %-11s %s %-40s %-20s %s\n",
			r.ID, r.Gateway, r.Action, orDash(r.TargetDate), state, orDash(r.BatchTag), r.StartedAt, keys)
		if r.Details.Error != "" {
			color.New(color.Faint).Fprintf(w, "         %s\n", r.Details.Error)
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
