package settings

import (
	"strings"

	"charm-wallet-bridge/config"
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/lipgloss"
)

// Nav returns the navigation bar for settings view
func Nav(width int) string {
	left := strings.Join([]string{
		styles.Key("↑/↓") + " select",
		styles.Key("Enter") + " make active",
		styles.Key("h") + " menu",
		styles.Key("l") + " debug log",
		styles.Key("Esc") + " back",
	}, "   ")

	return styles.NavStyle.Width(width).Render(left)
}

func row(label, value string) string {
	return lipgloss.NewStyle().Foreground(styles.CMuted).Width(16).Render(label) +
		lipgloss.NewStyle().Foreground(styles.CText).Render(value)
}

// Render shows the bridge settings and the RPC endpoints. Changes to the
// active endpoint are saved and take effect on the next start.
func Render(cfg config.Config, selectedIdx int, restartNeeded bool) string {
	keystore := cfg.Keystore.Dir
	if keystore == "" {
		keystore = "(none)"
	}

	lines := []string{
		styles.TitleStyle.Render("Bridge"),
		"",
		row("Listen", cfg.Bridge.Listen),
		row("Connect policy", cfg.Bridge.ConnectPolicy),
		row("Approval mode", cfg.Bridge.ApprovalMode),
		row("Keystore", keystore),
		"",
		styles.TitleStyle.Render("RPC Endpoints"),
		"",
	}

	if len(cfg.RPCURLs) == 0 {
		lines = append(lines, styles.Muted("No RPC URLs configured. Set ETH_RPC_URL to seed one."))
	}
	for i, rpc := range cfg.RPCURLs {
		marker := styles.Muted("○ ")
		if rpc.Active {
			marker = lipgloss.NewStyle().Foreground(styles.CAccent).Render("● ")
		}

		nameStyle := lipgloss.NewStyle().Foreground(styles.CText)
		urlStyle := lipgloss.NewStyle().Foreground(styles.CMuted)
		if i == selectedIdx {
			nameStyle = nameStyle.Background(styles.CPanel).Foreground(styles.CAccent2).Bold(true)
			urlStyle = urlStyle.Background(styles.CPanel)
			marker = lipgloss.NewStyle().Foreground(styles.CAccent2).Render("▶ ")
		}

		lines = append(lines, marker+nameStyle.Render(rpc.Name), "  "+urlStyle.Render(rpc.URL), "")
	}

	if restartNeeded {
		lines = append(lines, styles.WarnStyle.Render("Saved. Restart to sign against the new endpoint."))
	}
	return strings.Join(lines, "\n")
}
