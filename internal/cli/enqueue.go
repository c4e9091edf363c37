package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pikachusensei/flam/internal/clock"
	"github.com/pikachusensei/flam/internal/jobs"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <command>",
	Short: "Enqueue a shell command",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().Int("priority", 0, "Higher runs first")
	enqueueCmd.Flags().Int("timeout", 0, "Wall-clock timeout in seconds (default: config default_timeout)")
	enqueueCmd.Flags().Int("delay", 0, "Delay in seconds before the job becomes eligible")
	enqueueCmd.Flags().String("run-at", "", "Absolute UTC run time, e.g. 2026-03-05T12:00:00Z")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	command := args[0]

	priority, _ := cmd.Flags().GetInt("priority")
	timeout, _ := cmd.Flags().GetInt("timeout")
	delaySecs, _ := cmd.Flags().GetInt("delay")
	runAtStr, _ := cmd.Flags().GetString("run-at")

	opts := jobs.EnqueueOpts{
		Priority:       priority,
		TimeoutSeconds: timeout,
	}
	if runAtStr != "" {
		t, err := parseRunAt(runAtStr)
		if err != nil {
			return fmt.Errorf("invalid --run-at %q: %w", runAtStr, err)
		}
		opts.RunAt = t
	}
	if delaySecs != 0 {
		opts.Delay = time.Duration(delaySecs) * time.Second
	}

	store, err := openStore(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Enqueue(cmd.Context(), command, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued job %s: %s\n", id, command)
	return nil
}

// parseRunAt accepts the canonical clock.Layout as well as plain
// RFC3339, so a hand-typed "...Z" timestamp without microseconds works
// from the shell the same way it does from a program using time.Format.
func parseRunAt(s string) (time.Time, error) {
	if t, err := clock.Parse(s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format %q", strings.TrimSpace(s))
}
