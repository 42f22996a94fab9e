package wallets

import (
	"fmt"
	"strings"

	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/lipgloss"
)

// Account is a signing account as listed in the wallet page
type Account struct {
	Address string
	Name    string
	Active  bool
}

// Nav returns the navigation bar for wallets view
func Nav(width int) string {
	left := strings.Join([]string{
		styles.Key("↑/↓") + " move",
		styles.Key("Space") + " activate",
		styles.Key("r") + " refresh",
		styles.Key("c") + " copy",
		styles.Key("n") + " nickname",
		styles.Key("b") + " dApps",
		styles.Key("s") + " settings",
		styles.Key("h") + " menu",
		styles.Key("l") + " debug log",
		styles.Key("Esc") + " quit",
	}, "   ")

	return styles.NavStyle.Width(width).Render(left)
}

// RenderList renders the account list
func RenderList(accounts []Account, selectedIdx int) string {
	if len(accounts) == 0 {
		return styles.Muted("No signing accounts. Set keystore.dir and WALLET_PASSWORD, or start with --dev.")
	}

	var items []string
	for i, a := range accounts {
		var marker, fullAddr, shortAddr string
		var itemStyle lipgloss.Style

		if i == selectedIdx {
			marker = lipgloss.NewStyle().Foreground(styles.CAccent2).Bold(true).Render("▶ ")
			itemStyle = lipgloss.NewStyle().Foreground(styles.CAccent2).Bold(true)
			fullAddr = lipgloss.NewStyle().Foreground(styles.CText).Render(a.Address)
			shortAddr = helpers.ShortenAddr(a.Address)
		} else {
			marker = "  "
			itemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e1a2aa"))
			fullAddr = helpers.FadeString(a.Address, "#7D5AFC", "#FF87D7")
			shortAddr = helpers.FadeString(helpers.ShortenAddr(a.Address), "#F25D94", "#EDFF82")
		}

		if a.Name != "" {
			shortAddr = a.Name + " - " + shortAddr
		}
		if a.Active {
			shortAddr = "✓ " + shortAddr
		}
		items = append(items, marker+itemStyle.Render(shortAddr)+"\n  "+fullAddr)
	}
	return strings.Join(items, "\n\n")
}

// Render renders the full wallets view
func Render(accounts []Account, selectedIdx int) string {
	header := styles.TitleStyle.Render("Signing Accounts")
	subtitle := styles.Muted("The active account is disclosed to connecting dApps")

	statusBar := styles.Muted(fmt.Sprintf("%d accounts", len(accounts)))

	return header + "\n" + subtitle + "\n\n" + RenderList(accounts, selectedIdx) + "\n\n" + statusBar
}
