package main

import (
	"fmt"
	"strings"

	"charm-wallet-bridge/config"
	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/styles"
	approvalview "charm-wallet-bridge/views/approval"
	"charm-wallet-bridge/views/dapps"
	"charm-wallet-bridge/views/details"
	"charm-wallet-bridge/views/home"
	logview "charm-wallet-bridge/views/log"
	"charm-wallet-bridge/views/settings"
	"charm-wallet-bridge/views/wallets"

	"github.com/charmbracelet/lipgloss"
)

// -------------------- VIEW --------------------

func (m *model) rpcStatus() string {
	var icon, text string
	color := lipgloss.Color("#c01c28")
	switch {
	case m.rpcURL == "":
		icon, text = "○", "No RPC"
	case m.ethClient == nil:
		icon, text = "○", "RPC offline"
	default:
		icon, color = "●", cAccent
		for _, r := range m.cfg.RPCURLs {
			if r.URL == m.rpcURL {
				text = r.Name
				break
			}
		}
		if text == "" {
			text = "Connected"
		}
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(icon + " " + text)
}

func (m *model) bridgeStatus() string {
	conns := len(m.host.Connections())
	parts := []string{
		lipgloss.NewStyle().Foreground(cAccent2).Render(m.endpoint),
		fmt.Sprintf("%d sockets", m.server.Clients()),
		fmt.Sprintf("%d connected", conns),
	}
	status := styles.Muted(strings.Join(parts, " · "))
	if n := m.gate.Len(); n > 0 {
		status += "  " + lipgloss.NewStyle().Foreground(cWarn).Bold(true).Render(fmt.Sprintf("⚑ %d awaiting approval", n))
	}
	return status
}

func (m *model) globalHeader() string {
	availableWidth := helpers.Max(0, m.w-8)

	var addrDisplay string
	if m.activeAddress != "" {
		addrDisplay = lipgloss.NewStyle().
			Foreground(cAccent2).
			Bold(true).
			Render("Active: " + helpers.FadeString(helpers.ShortenAddr(m.activeAddress), "#F25D94", "#EDFF82"))
	} else {
		addrDisplay = styles.Muted("Active: no signing account")
	}

	rpcDisplay := m.rpcStatus()
	titleText := lipgloss.NewStyle().Bold(true).Render(helpers.FadeString("wallet bridge", "#7EE787", "#82CFFD"))

	addrWidth := lipgloss.Width(addrDisplay)
	rpcWidth := lipgloss.Width(rpcDisplay)
	titleWidth := lipgloss.Width(titleText)
	totalOtherWidth := addrWidth + rpcWidth + titleWidth

	var headerLine string
	if totalOtherWidth+4 > availableWidth {
		headerLine = addrDisplay + "\n" + titleText + "\n" + rpcDisplay
	} else {
		remainingSpace := availableWidth - totalOtherWidth
		leftPadding := remainingSpace / 2
		rightPadding := remainingSpace - leftPadding
		headerLine = addrDisplay + strings.Repeat(" ", helpers.Max(1, leftPadding)) +
			titleText + strings.Repeat(" ", helpers.Max(1, rightPadding)) + rpcDisplay
	}

	separator := lipgloss.NewStyle().
		Foreground(cBorder).
		Render(strings.Repeat("─", availableWidth))

	return headerLine + "\n" + separator + "\n" + m.bridgeStatus()
}

func (m *model) walletsContent() string {
	list := wallets.Render(m.accounts, m.selectedWallet)
	if m.nicknaming && m.form != nil {
		list += "\n\n" + panelStyle.BorderForeground(cAccent2).Render(m.form.View())
	}
	if len(m.accounts) == 0 {
		return list
	}

	nickname := m.accounts[m.selectedWallet].Name
	detail := details.Render(m.details, nickname, m.loading, m.copiedMsg, m.spin.View())

	half := helpers.Max(20, (m.w-8)/2)
	left := lipgloss.NewStyle().Width(half).Render(list)
	right := lipgloss.NewStyle().
		Width(half).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(cBorder).
		PaddingLeft(2).
		Render(detail)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m *model) dappsContent() string {
	if m.dappMode == "add" && m.form != nil {
		return styles.TitleStyle.Render("Allow dApp Origin") + "\n\n" + m.form.View()
	}
	qr := ""
	if m.showQR {
		qr = m.qr
	}
	content := dapps.Render(m.dappEntries(), m.selectedDappIdx, m.endpoint, qr)
	if m.copiedMsg != "" {
		content += "\n" + lipgloss.NewStyle().Foreground(cAccent).Render(m.copiedMsg)
	}
	return content
}

func (m *model) View() string {
	if m.w == 0 {
		return "starting…"
	}

	if m.pending != nil {
		dialog := approvalview.Render(m.pending, m.gate.Len(), m.approveFocused, m.approvalCopied, helpers.Min(m.w-4, 96))
		nav := approvalview.Nav(helpers.Max(0, m.w-2))
		return appStyle.Render(lipgloss.Place(
			m.w, m.h-lipgloss.Height(nav),
			lipgloss.Center, lipgloss.Center,
			dialog,
		) + "\n" + nav)
	}

	headerPanel := panelStyle.Width(helpers.Max(0, m.w-2)).Render(m.globalHeader())

	var pageContent, nav string
	navWidth := helpers.Max(0, m.w-2)
	switch m.activePage {
	case config.PageHome:
		pageContent = home.Render(m.homeForm)
		nav = home.Nav(navWidth)
	case config.PageWallets:
		pageContent = m.walletsContent()
		nav = wallets.Nav(navWidth)
	case config.PageDapps:
		pageContent = m.dappsContent()
		nav = dapps.Nav(navWidth, m.dappMode)
	case config.PageSettings:
		pageContent = settings.Render(m.cfg, m.selectedRPCIdx, m.restartNeeded)
		nav = settings.Nav(navWidth)
	}

	page := panelStyle.Width(helpers.Max(0, m.w-2)).Render(pageContent)
	parts := []string{headerPanel, page}
	if m.logEnabled {
		level := ""
		if m.logger != nil {
			level = m.logger.GetLevel().String()
		}
		parts = append(parts, logview.Render(m.w, m.logReady, m.logSpinner.View(), m.logViewport, level))
	}
	parts = append(parts, nav)

	return appStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
