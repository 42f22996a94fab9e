package details

import (
	"fmt"
	"strings"

	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/rpc"
	"charm-wallet-bridge/styles"

	"github.com/charmbracelet/lipgloss"
)

// Render renders balances and nonce of the selected signing account
func Render(details rpc.WalletDetails, nickname string, loading bool, copiedMsg string, spinnerView string) string {
	h := styles.TitleStyle.Render("Account Details")

	// OSC 8 hyperlink to the explorer
	etherscanURL := fmt.Sprintf("https://etherscan.io/address/%s", details.Address)
	addrStyle := lipgloss.NewStyle().Foreground(styles.CMuted).Underline(true)
	sub := fmt.Sprintf("\x1b]8;;%s\x1b\\%s\x1b]8;;\x1b\\", etherscanURL, addrStyle.Render(details.Address))

	if nickname != "" {
		sub = lipgloss.NewStyle().Foreground(styles.CAccent2).Italic(true).Render("\""+nickname+"\"") + "  " + sub
	}
	if copiedMsg != "" {
		sub += "  " + lipgloss.NewStyle().Foreground(styles.CAccent).Render(copiedMsg)
	}

	if loading {
		return h + "\n" + sub + "\n\n" + spinnerView + " fetching balances…"
	}

	if details.ErrMessage != "" {
		msg := lipgloss.NewStyle().Foreground(styles.CWarn).Render("⚠ " + details.ErrMessage)
		hint := styles.Muted("Signing still works offline when the dApp supplies nonce, gas and chainId.")
		return h + "\n" + sub + "\n\n" + msg + "\n\n" + hint
	}

	label := lipgloss.NewStyle().Foreground(styles.CAccent2).Bold(true)
	value := lipgloss.NewStyle().Foreground(styles.CText)

	lines := []string{
		h, sub, "",
		label.Render("ETH  ") + "  " + value.Render(helpers.FormatETH(details.EthWei)),
		label.Render("Nonce") + "  " + value.Render(fmt.Sprintf("%d", details.Nonce)),
		"",
	}

	if len(details.Tokens) == 0 {
		lines = append(lines, styles.Muted("No watched token balances found (non-zero)."))
	} else {
		lines = append(lines, styles.Muted("Tokens (watchlist)"))
		for _, t := range details.Tokens {
			lines = append(lines, fmt.Sprintf("%-6s  %s",
				lipgloss.NewStyle().Foreground(styles.CAccent).Render(t.Symbol),
				value.Render(helpers.FormatToken(t.Balance, t.Decimals, t.Symbol)),
			))
		}
	}

	lines = append(lines, "", styles.Muted("loaded "+helpers.LoadedAt(details.LoadedAt, loading)))
	return strings.Join(lines, "\n")
}
