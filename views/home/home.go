package home

import (
	"fmt"
	"strings"

	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/huh"
)

// TempSelection stores the home menu selection
var TempSelection string

// CreateForm builds the page menu. accounts, allowed and connected feed
// the option labels.
func CreateForm(accounts, allowed, connected int) *huh.Form {
	TempSelection = ""

	dapps := fmt.Sprintf("dApps (%d allowed, %d connected)", allowed, connected)
	if allowed == 0 {
		dapps = "dApps (none allowed yet)"
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Options(
					huh.NewOption(fmt.Sprintf("Signing Accounts (%d)", accounts), "accounts"),
					huh.NewOption(dapps, "dapps"),
					huh.NewOption("Bridge & RPC Settings", "settings"),
				).
				Title("Wallet Bridge").
				Description("Requests from dApps pop up over any page").
				Value(&TempSelection),
		),
	).WithTheme(huh.ThemeCatppuccin())

	form.Init()
	return form
}

// Render renders the home view
func Render(form *huh.Form) string {
	if form != nil {
		return form.View()
	}
	return "Loading menu..."
}

// Nav returns the navigation bar for home view
func Nav(width int) string {
	left := strings.Join([]string{
		styles.Key("↑/↓") + " select",
		styles.Key("Enter") + " go",
		styles.Key("l") + " logger",
		styles.Key("Esc") + " back",
		styles.Key("ctrl+c") + " quit",
	}, "   ")

	return styles.NavStyle.Width(width).Render(left)
}
