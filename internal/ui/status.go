package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table Styles
var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)

	TableBorderStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)

	TableHintStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// ProjectRow is one line of the status table.
type ProjectRow struct {
	ID         string
	Root       string
	LastBackup time.Time
	Daemon     string // "running", "stopped", "stale"
	Health     string // "ok", "warn", "fail"
	Detail     string
}

// RenderProjectTable renders the per-project status table. Rows keep
// their glyphs plain when color or emoji is disabled so the output stays
// machine-greppable.
func RenderProjectTable(rows []ProjectRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No projects registered. Run 'checkpoint projects add .' first.")
	}

	body := make([][]string, 0, len(rows))
	for _, r := range rows {
		body = append(body, []string{
			r.ID,
			r.Root,
			FormatAge(r.LastBackup),
			daemonCell(r.Daemon),
			healthCell(r.Health, r.Detail),
		})
	}

	return table.New().
		Headers("PROJECT", "ROOT", "LAST BACKUP", "DAEMON", "HEALTH").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(body...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
		}).
		String()
}

func daemonCell(daemon string) string {
	switch daemon {
	case "running":
		return Pass(glyph("✓", "ok") + " running")
	case "stale":
		return Warn(glyph("⚠", "!") + " stale")
	default:
		return Muted("stopped")
	}
}

func healthCell(health, detail string) string {
	switch health {
	case "ok":
		return Pass(glyph("✓", "ok"))
	case "warn":
		return Warn(glyph("⚠", "!") + " " + detail)
	default:
		return Fail(glyph("✗", "FAIL") + " " + detail)
	}
}

func glyph(emoji, plain string) string {
	if ShouldUseEmoji() {
		return emoji
	}
	return plain
}

// FormatAge renders a timestamp as a relative age ("12m ago"). The zero
// time reads as "never".
func FormatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
