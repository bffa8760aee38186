package main

import "github.com/charmbracelet/lipgloss"

// Verdict colors follow the dashboard: red for fraud, amber for review,
// green for safe.
var (
	fraudColor  = lipgloss.Color("#e53935")
	reviewColor = lipgloss.Color("#FFC107")
	safeColor   = lipgloss.Color("#8BC34A")
	mutedColor  = lipgloss.Color("#8a94a6")

	fraudStyle  = lipgloss.NewStyle().Foreground(fraudColor).Bold(true)
	reviewStyle = lipgloss.NewStyle().Foreground(reviewColor)
	safeStyle   = lipgloss.NewStyle().Foreground(safeColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	okStyle     = lipgloss.NewStyle().Foreground(safeColor).Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// verdictStyle picks the style for a /predict status.
func verdictStyle(status string) lipgloss.Style {
	switch status {
	case "FRAUD":
		return fraudStyle
	case "REQUIRES_HUMAN_REVIEW":
		return reviewStyle
	default:
		return safeStyle
	}
}
