package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/pkg/models"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(16)
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// printStatus prints a colored status line.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// verdictStyle picks the style for a verdict.
func verdictStyle(v models.Verdict) lipgloss.Style {
	switch v {
	case models.VerdictStillFailing:
		return failStyle
	case models.VerdictCorrected, models.VerdictAlreadyPassing:
		return passStyle
	default:
		return dimStyle
	}
}

// renderSummary draws the end-of-run box.
func renderSummary(rep models.RunReport, paths report.Paths) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}

	rows := []string{
		row("Verdict", verdictStyle(rep.Verdict).Render(string(rep.Verdict))),
		row("Run", rep.RunID),
		row("Strategy", string(rep.Strategy)),
		row("Errors", fmt.Sprintf("%d → %d", rep.Pre.ErrorCount, rep.Post.ErrorCount)),
		row("Passed", fmt.Sprintf("%d → %d", rep.Pre.PassCount, rep.Post.PassCount)),
		row("Fix applied", yesNo(rep.FixApplied)),
		row("Tree changed", yesNo(rep.ChangeApplied)),
	}
	if rep.Patch != nil {
		state := "inserted"
		if rep.Patch.AlreadyPresent {
			state = "already present"
		}
		rows = append(rows, row("Patch", fmt.Sprintf("%s (%s)", rep.Patch.TargetFile, state)))
	}
	if rep.Agent != nil {
		rows = append(rows, row("Agent", fmt.Sprintf("%s after %d turn(s), %d malformed",
			rep.Agent.Status, rep.Agent.Iterations, rep.Agent.Malformed)))
	}
	if len(rep.Post.MissingDependencies) > 0 {
		rows = append(rows, row("Unresolved", strings.Join(rep.Post.MissingDependencies, ", ")))
	}
	rows = append(rows, row("Duration", rep.Duration.Round(time.Millisecond).String()))
	if paths.Results != "" {
		rows = append(rows, dimStyle.Render("results: "+paths.Results))
	}

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
