package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
	"github.com/tjfontaine/reqpipe/internal/pkg/config"
	"github.com/tjfontaine/reqpipe/internal/storage"
)

// NewLogsCmd creates the logs command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [request-id]",
		Short: "Show persisted request logs",
		Long: `Logs reads the request log store configured under storage. Only
persistent stores (sqlite) retain entries between runs.

Examples:
  # Show the 20 most recent requests
  reqpiped logs

  # Show failed requests only
  reqpiped logs --failed

  # Show one request as JSON
  reqpiped logs --json 9b2c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogs,
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum number of entries to show")
	cmd.Flags().Int("offset", 0, "Number of entries to skip")
	cmd.Flags().BoolP("failed", "f", false, "Show failed requests only")
	cmd.Flags().BoolP("json", "j", false, "Output in JSON format")

	return cmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: request log storage is disabled", domain.ErrInvalidState)
	}
	defer store.Close()

	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		entry, err := store.GetRequestLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(out, entry)
		}
		return writeTable(out, []*domain.RequestLog{entry})
	}

	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	failed, _ := cmd.Flags().GetBool("failed")

	entries, err := store.ListRequestLogs(cmd.Context(), ports.ListOptions{
		Limit:      limit,
		Offset:     offset,
		FailedOnly: failed,
	})
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(out, entries)
	}
	return writeTable(out, entries)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, entries []*domain.RequestLog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tMETHOD\tPATH\tSTATUS\tDURATION\tERROR")
	for _, e := range entries {
		errText := e.Error
		if e.FailedStage != "" {
			errText = e.FailedStage + ": " + errText
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339),
			e.ID, e.Method, e.Path, e.Status,
			e.Duration.Round(time.Microsecond), errText)
	}
	return tw.Flush()
}
