package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/verifix/internal/config"
	"github.com/ShayCichocki/verifix/internal/state"
)

var (
	historyLimit int
	historyPurge time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs",
	Long: `Show runs recorded in the history database, newest first.

With a run id, shows that run in detail. The database lives at
artifacts.history_db, or under $XDG_DATA_HOME/verifix by default.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().DurationVar(&historyPurge, "purge-older-than", 0, "Delete runs started longer ago than this before listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}

	path := state.GlobalDBPath()
	if cfg.Artifacts.HistoryDB != "" {
		path = resolvePath(cwd, cfg.Artifacts.HistoryDB)
	}
	out := cmd.OutOrStdout()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "No runs recorded yet. Run 'verifix run --repo-path <repo>' to start.")
		return nil
	}

	db, err := state.OpenMigrated(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	if _, err := db.RecoverInterrupted(); err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if historyPurge > 0 {
		n, err := db.PurgeOldRuns(historyPurge)
		if err != nil {
			return fmt.Errorf("purge runs: %w", err)
		}
		fmt.Fprintf(out, "Purged %d run(s)\n", n)
	}

	if len(args) == 1 {
		r, err := db.GetRun(args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if r == nil {
			return fmt.Errorf("run %s not found", args[0])
		}
		printRun(out, *r)
		return nil
	}

	runs, err := db.ListRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	fmt.Fprintf(out, "%-26s  %-19s  %-8s  %-11s  %-15s  %s\n", "RUN", "STARTED", "STRATEGY", "STATUS", "VERDICT", "ERRORS")
	for _, r := range runs {
		verdict := string(r.Verdict)
		if verdict == "" {
			verdict = "-"
		}
		fmt.Fprintf(out, "%-26s  %-19s  %-8s  %-11s  %-15s  %d → %d\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Strategy,
			statusStyle(r.Status).Render(fmt.Sprintf("%-11s", r.Status)),
			verdictStyle(r.Verdict).Render(fmt.Sprintf("%-15s", verdict)),
			r.PreErrors, r.PostErrors)
	}
	return nil
}

func printRun(w io.Writer, r state.Run) {
	fmt.Fprintf(w, "Run:          %s\n", r.ID)
	fmt.Fprintf(w, "Repository:   %s\n", r.RepoPath)
	if r.TaskID != "" {
		fmt.Fprintf(w, "Task:         %s\n", r.TaskID)
	}
	fmt.Fprintf(w, "Strategy:     %s\n", r.Strategy)
	if r.Model != "" {
		fmt.Fprintf(w, "Model:        %s\n", r.Model)
	}
	fmt.Fprintf(w, "Status:       %s\n", statusStyle(r.Status).Render(string(r.Status)))
	if r.Verdict != "" {
		fmt.Fprintf(w, "Verdict:      %s\n", verdictStyle(r.Verdict).Render(string(r.Verdict)))
	}
	fmt.Fprintf(w, "Errors:       %d → %d\n", r.PreErrors, r.PostErrors)
	fmt.Fprintf(w, "Fix applied:  %s\n", yesNo(r.FixApplied))
	fmt.Fprintf(w, "Tree changed: %s\n", yesNo(r.ChangeApplied))
	if r.AgentIterations > 0 {
		fmt.Fprintf(w, "Agent turns:  %d\n", r.AgentIterations)
	}
	fmt.Fprintf(w, "Started:      %s\n", r.StartedAt.Local().Format(time.RFC1123))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "Duration:     %s\n", r.Duration().Round(time.Millisecond))
	}
	if r.Fatal != "" {
		fmt.Fprintf(w, "Fatal:        %s\n", failStyle.Render(r.Fatal))
	}
}

func statusStyle(s state.RunStatus) lipgloss.Style {
	switch s {
	case state.RunCompleted:
		return passStyle
	case state.RunFailed, state.RunInterrupted:
		return failStyle
	default:
		return dimStyle
	}
}
