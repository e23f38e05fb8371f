// Package ui styles the checkpoint CLI's terminal output.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Palette shared by every checkpoint renderer. Adaptive pairs keep the
// output readable on both light and dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "196"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "245", Dark: "240"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "26", Dark: "39"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Pass renders s in the success color when color is enabled.
func Pass(s string) string { return render(PassStyle, s) }

// Warn renders s in the warning color.
func Warn(s string) string { return render(WarnStyle, s) }

// Fail renders s in the failure color.
func Fail(s string) string { return render(FailStyle, s) }

// Muted renders s dimmed.
func Muted(s string) string { return render(MutedStyle, s) }

// Accent renders s highlighted.
func Accent(s string) string { return render(AccentStyle, s) }

func render(style lipgloss.Style, s string) string {
	if !ShouldUseColor() {
		return s
	}
	return style.Render(s)
}

// Profile reports the terminal's color capability, Ascii when color is
// disabled by environment or the output is not a TTY.
func Profile() termenv.Profile {
	if !ShouldUseColor() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// IsTerminal reports whether stdout is a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor decides whether output gets ANSI colors, honoring
// NO_COLOR (https://no-color.org/), CLICOLOR=0 and CLICOLOR_FORCE
// before the TTY check.
func ShouldUseColor() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("CLICOLOR") == "0":
		return false
	case os.Getenv("CLICOLOR_FORCE") != "":
		return true
	}
	return IsTerminal()
}

// ShouldUseEmoji gates the status glyphs: off for pipes so output stays
// machine-readable, and off when CHECKPOINT_NO_EMOJI is set.
func ShouldUseEmoji() bool {
	return os.Getenv("CHECKPOINT_NO_EMOJI") == "" && IsTerminal()
}

// GetWidth returns the terminal width, or 80 when it cannot be read.
func GetWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
