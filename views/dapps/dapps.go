package dapps

import (
	"fmt"
	"strings"
	"time"

	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
)

// Entry is an allow-listed origin and what it currently sees.
type Entry struct {
	Name      string
	Origin    string
	Icon      string
	Connected bool
	Accounts  []common.Address
	Since     time.Time
}

// Nav returns the navigation bar for the dapps view
func Nav(width int, dappMode string) string {
	var left string
	if dappMode == "add" {
		left = strings.Join([]string{
			styles.Key("l") + " logger",
			styles.Key("Esc") + " cancel",
		}, "   ")
	} else {
		left = strings.Join([]string{
			styles.Key("Tab") + " select next",
			styles.Key("a") + " allow origin",
			styles.Key("x") + " disconnect",
			styles.Key("d") + " revoke",
			styles.Key("o") + " endpoint QR",
			styles.Key("c") + " copy endpoint",
			styles.Key("l") + " logger",
			styles.Key("Esc") + " back",
		}, "   ")
	}

	return styles.NavStyle.Width(width).Render(left)
}

func cardStyle(focused bool) lipgloss.Style {
	s := lipgloss.NewStyle().
		Width(30).
		Height(7).
		Align(lipgloss.Center, lipgloss.Center).
		Background(styles.CPanel).
		Padding(1, 2)
	if focused {
		return s.BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("69"))
	}
	return s.BorderStyle(lipgloss.HiddenBorder())
}

func renderCard(e Entry, focused bool) string {
	icon := e.Icon
	if icon == "" {
		icon = "🌐"
	}
	name := e.Name
	if name == "" {
		name = strings.TrimPrefix(strings.TrimPrefix(e.Origin, "https://"), "http://")
	}

	nameStyle := lipgloss.NewStyle().Foreground(styles.CText).Bold(true)

	status := styles.Muted("○ not connected")
	if e.Connected {
		shown := make([]string, 0, len(e.Accounts))
		for _, a := range e.Accounts {
			shown = append(shown, helpers.ShortenAddr(a.Hex()))
		}
		status = lipgloss.NewStyle().Foreground(styles.CAccent).Render("● "+strings.Join(shown, ", ")) +
			"\n" + styles.Muted("since "+helpers.Age(e.Since, time.Now()))
	}

	content := icon + "\n\n" +
		nameStyle.Render(name) + "\n" +
		helpers.FadeString(e.Origin, "#F25D94", "#EDFF82") + "\n" +
		status

	return cardStyle(focused).Render(content)
}

// Render renders the allowed dapps as a grid with the endpoint dapps dial
func Render(entries []Entry, selectedIdx int, endpoint string, qr string) string {
	h := styles.TitleStyle.Render("Connected dApps")
	sub := styles.Muted("Provider endpoint: ") + lipgloss.NewStyle().Foreground(styles.CAccent2).Render(endpoint)

	if qr != "" {
		return h + "\n" + sub + "\n\n" + qr
	}

	if len(entries) == 0 {
		return h + "\n" + sub + "\n\n" +
			styles.Muted("No origins allowed yet.") + "\n\n" +
			styles.Muted("Press ") + styles.Key("a") + styles.Muted(" to allow a dApp origin.")
	}

	const columnsPerRow = 3
	var rows []string
	for i := 0; i < len(entries); i += columnsPerRow {
		var rowCards []string
		for j := 0; j < columnsPerRow && i+j < len(entries); j++ {
			rowCards = append(rowCards, renderCard(entries[i+j], i+j == selectedIdx))
			if j < columnsPerRow-1 && i+j+1 < len(entries) {
				rowCards = append(rowCards, "  ")
			}
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, rowCards...))
	}

	connected := 0
	for _, e := range entries {
		if e.Connected {
			connected++
		}
	}
	status := styles.Muted(fmt.Sprintf("%d allowed, %d connected", len(entries), connected))

	return h + "\n" + sub + "\n\n" + strings.Join(rows, "\n") + "\n\n" + status
}
