package log

import (
	"fmt"

	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
)

// Height is the number of log lines shown for a terminal of the given
// height: at most a third of the screen and never more than 15.
func Height(termHeight int) int {
	// header, nav, title and borders
	const reserved = 10
	available := helpers.Max(5, termHeight-reserved)
	return helpers.Min(available, helpers.Max(3, helpers.Min(termHeight/3, 15)))
}

// Render renders the log panel. vp must already be sized with Height.
func Render(width int, ready bool, spinnerView string, vp viewport.Model, level string) string {
	title := lipgloss.NewStyle().
		Foreground(styles.CAccent2).
		Bold(true).
		Render("Log")
	if level != "" {
		title += styles.Muted(" · " + level)
	}

	border := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(styles.CBorder).
		Padding(0, 1).
		Width(helpers.Max(0, width-2)).
		Height(vp.Height + 2)

	if !ready {
		return border.Render(title + "\n\n" + "initializing...\n" + spinnerView)
	}

	if vp.TotalLineCount() > vp.Height {
		if vp.AtBottom() {
			title += styles.Muted(" [following]")
		} else {
			title += styles.Muted(fmt.Sprintf(" [%d%%]", int(vp.ScrollPercent()*100)))
		}
	}

	return border.Render(title + "\n\n" + vp.View())
}
