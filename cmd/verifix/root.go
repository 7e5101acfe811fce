package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// Exit statuses.
const (
	exitOK      = 0
	exitFatal   = 1
	exitFailing = 2
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "verifix",
	Short: "Validate, remediate and verify a repository's test suite",
	Long: `Verifix runs a repository's tests, repairs missing Python dependencies,
applies a fix (a deterministic structural patch, a reasoning-service agent,
or both), runs the tests again and reports whether the failure was corrected.

Every run leaves its evidence under the artifacts directory:
  pre_validation.log   first test run, with remediation details
  post_validation.log  final test run and the verdict
  prompts.md           instructions and agent transcript
  agent.log            JSON event log
  results.json         flat machine-readable summary
  changes.patch        diff against the commit checked out at start

Exit status is 0 when the tests pass after the run, 2 when they still fail,
and 1 when the run could not complete.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries an exit status through cobra. A nil err exits quietly.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	code := exitFatal
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		err = ee.err
	}
	if err != nil {
		printError(err)
	}
	return code
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging (also VERIFIX_DEBUG=1)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(signalCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the diagnostic logger. Output goes to stderr so stdout
// stays clean for command results.
func newLogger() (*zap.Logger, error) {
	if verbose || os.Getenv("VERIFIX_DEBUG") != "" {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// printError writes a fatal error with its kind, if it has one.
func printError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	if kind := errkind.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", red("✗"), kind, err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", red("✗"), err)
}
