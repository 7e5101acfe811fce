package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/verifix/internal/config"
	"github.com/ShayCichocki/verifix/internal/validation"
)

var (
	classifyMarkers []string
	classifyJSON    bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file|->",
	Short: "Count failures in saved test output",
	Long: `Run the failure classifier on saved test output.

Reads the file (or stdin for "-") and prints the error, pass and warning
counts together with any missing Python modules, exactly as a validation
stage would record them. Markers default to the configured
validation.markers.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringSliceVar(&classifyMarkers, "marker", nil, "Failure marker (repeatable, default from config)")
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Print the classification as JSON")
}

func runClassify(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	markers := classifyMarkers
	if len(markers) == 0 {
		cwd, _ := os.Getwd()
		if cfg, err := config.Load(cwd); err == nil {
			markers = cfg.Validation.Markers
		}
	}

	c := validation.NewClassifier(markers...).Classify(text, "")
	out := cmd.OutOrStdout()
	if classifyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			ErrorCount          int      `json:"error_count"`
			PassCount           int      `json:"pass_count"`
			WarningCount        int      `json:"warning_count"`
			MissingDependencies []string `json:"missing_dependencies"`
		}{c.ErrorCount, c.PassCount, c.WarningCount, orEmpty(c.MissingDependencies)})
	}

	fmt.Fprintf(out, "ERROR COUNT   : %d\n", c.ErrorCount)
	fmt.Fprintf(out, "PASS COUNT    : %d\n", c.PassCount)
	fmt.Fprintf(out, "WARNING COUNT : %d\n", c.WarningCount)
	if len(c.MissingDependencies) > 0 {
		fmt.Fprintf(out, "MISSING       : %s\n", strings.Join(c.MissingDependencies, ", "))
	}
	return nil
}

func readInput(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
