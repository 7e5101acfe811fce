package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/control"
)

var signalRepoPath string

var signalCmd = &cobra.Command{
	Use:   "signal <stop|pause|resume>",
	Short: "Stop, pause or resume a running cycle",
	Long: `Drop or remove a signal file under <repo>/.verifix/signals.

  stop    cancel the running cycle; it exits with a fatal status
  pause   hold the agent loop before its next turn
  resume  release a paused agent loop`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"stop", "pause", "resume"},
	RunE:      runSignal,
}

func init() {
	signalCmd.Flags().StringVar(&signalRepoPath, "repo-path", ".", "Repository the cycle is running against")
}

func runSignal(cmd *cobra.Command, args []string) error {
	repo, err := filepath.Abs(signalRepoPath)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}
	w, err := control.NewWatcher(repo, nil, zap.NewNop())
	if err != nil {
		return fmt.Errorf("open signal directory: %w", err)
	}
	defer w.Close()

	var msg string
	switch args[0] {
	case "stop":
		err, msg = w.SendKill(), "Stop requested"
	case "pause":
		err, msg = w.SendPause(), "Pause requested"
	case "resume":
		err, msg = w.Resume(), "Resumed"
	default:
		return fmt.Errorf("unknown signal %q (want stop, pause or resume)", args[0])
	}
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	printStatus(cmd.OutOrStdout(), "✓", fmt.Sprintf("%s (%s)", msg, w.Dir()), color.FgGreen)
	return nil
}
