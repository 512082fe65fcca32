package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/issuetrack/internal/health"
	"github.com/joescharf/issuetrack/internal/models"
	"github.com/joescharf/issuetrack/internal/output"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store health and issue counts",
	Long: `Ping the configured store and show the same report as GET /health:
overall status, backend name, and issue counts by status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	report := health.NewChecker(s).Check(context.Background())

	if statusJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(ui.Out, "Status:    %s\n", output.HealthColor(report.Status))
	fmt.Fprintf(ui.Out, "Database:  %s\n", report.Database)
	fmt.Fprintf(ui.Out, "Message:   %s\n", report.Message)
	if !report.Healthy() {
		ui.VerboseLog("Cause: %v", report.Err)
		return fmt.Errorf("store unhealthy: %w", report.Err)
	}
	fmt.Fprintf(ui.Out, "Issues:    %s\n", formatCount(report.IssuesCount))
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Status", "Count"})
	for _, st := range models.IssueStatuses {
		n := report.ByStatus[string(st)]
		_ = table.Append([]string{output.StatusColor(string(st)), strconv.FormatInt(n, 10)})
	}
	_ = table.Render()
	return nil
}

// formatCount renders an optional count.
func formatCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatInt(*n, 10)
}
