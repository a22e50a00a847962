package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jpalmerr/zync/internal/poller"
)

// Outcome colors.
var (
	ColorRunning    = lipgloss.Color("#22c55e")
	ColorTransition = lipgloss.Color("#d97706")
	ColorIdle       = lipgloss.Color("#9ca3af")
	ColorDanger     = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorBright)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(ColorDimmed)
	helpStyle   = lipgloss.NewStyle().Foreground(ColorDimmed)
	noticeStyle = lipgloss.NewStyle().Foreground(ColorDanger)
)

// kindColor picks the status color of an outcome kind.
func kindColor(k poller.Kind) lipgloss.Color {
	switch k {
	case poller.KindRunning:
		return ColorRunning
	case poller.KindStarting, poller.KindStopping:
		return ColorTransition
	case poller.KindNotDeployed, poller.KindHidden:
		return ColorIdle
	default:
		return ColorDanger
	}
}
