package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/teamlead/internal/state"
	"github.com/ShayCichocki/teamlead/pkg/models"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	Long: `List sessions stored in the database, newest first.

Shows status, cost, token usage, teammate and task counts. This reads the
database directly and works whether or not the supervisor is running.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of sessions to show (0 for all)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	db, err := state.Open(cfg.State.Driver, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	summaries, err := db.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	printSessions(cmd.OutOrStdout(), summaries, sessionsLimit)
	return nil
}

func printSessions(w io.Writer, summaries []state.Summary, limit int) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions yet. Start one with 'teamlead serve' and POST /api/sessions.")
		return
	}

	shown := summaries
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	bold := color.New(color.Bold)
	for _, sum := range shown {
		s := sum.Session
		bold.Fprintf(w, "%s", s.Name)
		fmt.Fprintf(w, "  %s\n", statusColor(s.Status).Sprint(s.Status))
		fmt.Fprintf(w, "  id:        %s\n", s.ID)
		fmt.Fprintf(w, "  workdir:   %s\n", s.Config.WorkDir)
		fmt.Fprintf(w, "  cost:      $%.2f (%s tokens)\n", s.CostUSD, humanize.Comma(s.InputTokens+s.OutputTokens))
		fmt.Fprintf(w, "  team:      %d %s, %d %s\n",
			sum.TeammateCount, plural(sum.TeammateCount, "teammate", "teammates"),
			sum.TaskCount, plural(sum.TaskCount, "task", "tasks"))
		fmt.Fprintf(w, "  created:   %s\n", humanize.Time(s.CreatedAt))
		fmt.Fprintln(w)
	}

	if hidden := len(summaries) - len(shown); hidden > 0 {
		fmt.Fprintf(w, "... and %d more (use --limit 0 to show all)\n", hidden)
	}
}

func statusColor(status models.SessionStatus) *color.Color {
	switch status {
	case models.SessionRunning, models.SessionStarting:
		return color.New(color.FgYellow)
	case models.SessionCompleted:
		return color.New(color.FgGreen)
	case models.SessionError:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
