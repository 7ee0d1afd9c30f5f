// Package inspect renders run ledger entries for the terminal.
package inspect

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tfsync/internal/history"
)

// Theme keeps every style of the report in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusDim     lipgloss.Style

	Title  lipgloss.Style
	Label  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
	Box    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusDim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Label:  lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")).Width(12),
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1),
	}
}

func (t Theme) status(s history.Status) string {
	switch s {
	case history.StatusSucceeded:
		return t.StatusOK.Render(string(s))
	case history.StatusRunning:
		return t.StatusRunning.Render(string(s))
	case history.StatusFailed:
		return t.StatusFailed.Render(string(s))
	default:
		return t.StatusDim.Render(string(s))
	}
}

// RenderRun renders one run with its command steps.
func RenderRun(run history.Run) string {
	return renderRun(NewDefaultTheme(), run)
}

func renderRun(theme Theme, run history.Run) string {
	var summary strings.Builder
	field := func(label, value string) {
		fmt.Fprintf(&summary, "%s %s\n", theme.Label.Render(label), value)
	}

	fmt.Fprintf(&summary, "%s\n", theme.Title.Render("Sync Run "+run.ID))
	field("Builder", run.Builder)
	field("Worker", renderUnset(run.Worker, "<unknown>"))
	field("Workspace", run.Workspace)
	field("Branch", run.Branch)
	field("Mode", run.Mode)
	field("Revision", renderUnset(run.Revision, "latest"))
	field("Status", theme.status(run.Status))
	field("Decision", renderUnset(run.Decision, "<none>"))
	field("Created", fmt.Sprintf("%t", run.Created))
	field("Started", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		field("Duration", formatDuration(run.Duration()))
	}
	if run.LastError != nil {
		field("Error", theme.StatusFailed.Render(*run.LastError))
	}

	var out strings.Builder
	out.WriteString(theme.Box.Render(strings.TrimRight(summary.String(), "\n")))
	out.WriteString("\n")

	if len(run.Steps) == 0 {
		out.WriteString(theme.Dim.Render("no commands recorded"))
		out.WriteString("\n")
		return out.String()
	}

	out.WriteString("\n")
	out.WriteString(theme.Header.Render(fmt.Sprintf("Commands (%d)", len(run.Steps))))
	out.WriteString("\n")
	for _, c := range run.Steps {
		result := theme.StatusOK.Render("ok")
		switch {
		case c.TimedOut:
			result = theme.StatusFailed.Render("timeout")
		case c.Failed && c.Policy == "tolerate":
			result = theme.StatusRunning.Render(fmt.Sprintf("exit %d (tolerated)", c.ExitCode))
		case c.Failed:
			result = theme.StatusFailed.Render(fmt.Sprintf("exit %d", c.ExitCode))
		}
		argv := strings.Join(c.Args, " ")
		if argv == "" {
			argv = "<probe>"
		}
		fmt.Fprintf(&out, "[%d] %-10s %s  %s\n", c.Seq, c.Subcommand, result, theme.Dim.Render(formatDuration(c.Duration)))
		fmt.Fprintf(&out, "    %s\n", argv)
		if c.Error != "" {
			fmt.Fprintf(&out, "    %s\n", theme.StatusFailed.Render(c.Error))
		}
	}
	return out.String()
}

// RenderRuns renders a one-line-per-run table, newest first as given.
func RenderRuns(runs []history.Run) string {
	theme := NewDefaultTheme()
	if len(runs) == 0 {
		return theme.Dim.Render("no runs recorded") + "\n"
	}

	var out strings.Builder
	out.WriteString(theme.Header.Render(fmt.Sprintf("%-36s  %-16s  %-10s  %-9s  %-8s  %s",
		"RUN", "BUILDER", "STATUS", "DECISION", "DURATION", "STARTED")))
	out.WriteString("\n")
	for _, r := range runs {
		status := theme.status(r.Status)
		pad := 10 - lipgloss.Width(status)
		if pad < 0 {
			pad = 0
		}
		fmt.Fprintf(&out, "%-36s  %-16s  %s%s  %-9s  %-8s  %s\n",
			r.ID,
			truncate(r.Builder, 16),
			status, strings.Repeat(" ", pad),
			renderUnset(r.Decision, "-"),
			formatDuration(r.Duration()),
			r.StartedAt.Local().Format(time.DateTime),
		)
	}
	return out.String()
}

// BuildJSONReport returns the machine-readable form of a run.
func BuildJSONReport(run history.Run) (string, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(100 * time.Millisecond).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
