package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pikachusensei/flam/internal/cli/ui"
	"github.com/pikachusensei/flam/internal/clock"
	"github.com/pikachusensei/flam/internal/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs by state",
	RunE:  runJobsList,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by state",
	RunE:  runJobsStats,
}

var jobsDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "List dead-lettered jobs",
	RunE:  runJobsDead,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-arm a dead job back to pending",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

func init() {
	jobsListCmd.Flags().String("state", string(jobs.StatePending), "pending, processing, completed, or dead")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsDeadCmd)
	jobsCmd.AddCommand(jobsRetryCmd)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	state, _ := cmd.Flags().GetString("state")

	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.ListByState(cmd.Context(), jobs.JobState(state))
	if err != nil {
		return err
	}
	return printJobs(cmd, items)
}

func runJobsDead(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.ListDead(cmd.Context())
	if err != nil {
		return err
	}
	return printJobs(cmd, items)
}

func printJobs(cmd *cobra.Command, items []*jobs.Job) error {
	if outputFormat(cmd) == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Println("No jobs found.")
		return nil
	}

	useColor := ui.ColorEnabledFd(os.Stdout.Fd())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tATTEMPTS\tPRIORITY\tCOMMAND\tCREATED")
	for _, j := range items {
		command := j.Command
		if len(command) > 40 {
			command = command[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
			j.ID, styledState(j.State, useColor), j.Attempts, j.MaxRetries, j.Priority, command,
			clock.Format(j.CreatedAt))
	}
	return w.Flush()
}

// styledState renders a job state with the same status-dot convention the
// teacher's CLI uses for health output: a colored dot when the terminal
// supports it, a plain ASCII symbol otherwise.
func styledState(state jobs.JobState, useColor bool) string {
	var dot, symbol string
	switch state {
	case jobs.StateCompleted:
		dot, symbol = ui.StyleSuccess.Render(ui.SymbolDot), ui.SymbolCheck
	case jobs.StateDead:
		dot, symbol = ui.StyleError.Render(ui.SymbolDot), ui.SymbolCross
	case jobs.StateProcessing:
		dot, symbol = ui.StyleWarning.Render(ui.SymbolDot), ui.SymbolWarning
	default: // pending
		dot, symbol = ui.SymbolDot, ui.SymbolDot
	}
	if useColor {
		return fmt.Sprintf("%s %s", dot, state)
	}
	return fmt.Sprintf("%s %s", symbol, state)
}

func runJobsStats(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetCounts(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	useColor := ui.ColorEnabledFd(os.Stdout.Fd())
	printStat := func(label string, n int, style lipgloss.Style) {
		if useColor {
			fmt.Printf("%s %d\n", style.Render(label+":"), n)
			return
		}
		fmt.Printf("%s %d\n", label+":", n)
	}
	printStat("pending   ", stats.Pending, lipgloss.Style{})
	printStat("processing", stats.Processing, ui.StyleWarning)
	printStat("completed ", stats.Completed, ui.StyleSuccess)
	printStat("dead      ", stats.Dead, ui.StyleError)
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RetryDead(cmd.Context(), jobID); err != nil {
		return err
	}
	fmt.Printf("Job %s reset to pending\n", jobID)
	return nil
}
