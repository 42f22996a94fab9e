package main

import (
	"context"
	"strings"
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/config"
	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/rpc"
	"charm-wallet-bridge/views/wallets"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common"
)

// -------------------- COMMAND FUNCTIONS --------------------

const tickInterval = 500 * time.Millisecond

// waitForApproval blocks until the gate has a request to present. Only one
// of these is outstanding at a time.
func waitForApproval(ctx context.Context, gate *approval.Gate) tea.Cmd {
	return func() tea.Msg {
		req, err := gate.Next(ctx)
		if err != nil {
			return approvalStoppedMsg{err: err}
		}
		return approvalRequestedMsg{req: req}
	}
}

// initLogViewport initializes the log viewport
func initLogViewport() tea.Cmd {
	return func() tea.Msg {
		return logInitMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// loadDetails fetches wallet balance details from the blockchain
func loadDetails(client *rpc.Client, addr common.Address, watch []rpc.WatchedToken) tea.Cmd {
	return func() tea.Msg {
		return detailsLoadedMsg{d: rpc.LoadWalletDetails(client, addr, watch)}
	}
}

// copyToClipboard copies text to clipboard
func copyToClipboard(text, what string) tea.Cmd {
	return func() tea.Msg {
		return clipboardCopiedMsg{what: what, err: clipboard.WriteAll(text)}
	}
}

// clearCopied clears clipboard feedback after two seconds
func clearCopied() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg { return clearCopiedMsg{} })
}

// -------------------- MODEL HELPER METHODS --------------------

// addLog writes a TUI event through the shared logger
func (m *model) addLog(logType, message string, keyvals ...any) {
	if m.logger == nil {
		return
	}
	switch logType {
	case "success":
		m.logger.Info("✓ "+message, keyvals...)
	case "error":
		m.logger.Error(message, keyvals...)
	case "warning":
		m.logger.Warn(message, keyvals...)
	case "debug":
		m.logger.Debug(message, keyvals...)
	default:
		m.logger.Info(message, keyvals...)
	}
	m.updateLogViewport()
}

// refreshAccounts rebuilds the account list from the key store
func (m *model) refreshAccounts() {
	active, _ := m.host.ActiveAccount()
	m.activeAddress = ""
	m.accounts = m.accounts[:0]
	for _, a := range m.store.Accounts() {
		hex := a.Hex()
		isActive := a == active
		if isActive {
			m.activeAddress = hex
		}
		m.accounts = append(m.accounts, wallets.Account{
			Address: hex,
			Name:    m.cfg.WalletName(hex),
			Active:  isActive,
		})
	}
	if m.selectedWallet >= len(m.accounts) {
		m.selectedWallet = helpers.Max(0, len(m.accounts)-1)
	}
}

// loadSelectedWalletDetails loads details for the selected account, from cache when possible
func (m *model) loadSelectedWalletDetails() tea.Cmd {
	if len(m.accounts) == 0 {
		return nil
	}
	addr := m.accounts[m.selectedWallet].Address
	if cached, ok := m.detailsCache[strings.ToLower(addr)]; ok {
		m.details = cached
		m.loading = false
		return nil
	}
	m.loading = true
	m.details = rpc.WalletDetails{Address: addr}
	return loadDetails(m.ethClient, common.HexToAddress(addr), m.tokenWatch)
}

// updateLogViewport refreshes the viewport content with log output
func (m *model) updateLogViewport() {
	if !m.logReady || m.logBuffer == nil {
		return
	}
	v := m.logBuffer.Version()
	if v == m.logVersion {
		return
	}
	m.logVersion = v
	follow := m.logViewport.AtBottom()
	m.logViewport.SetContent(m.logBuffer.String())
	if follow {
		m.logViewport.GotoBottom()
	}
}

// saveConfig persists the config and logs failures
func (m *model) saveConfig() {
	if m.configPath == "" {
		return
	}
	if err := config.Save(m.configPath, m.cfg); err != nil {
		m.addLog("error", "Saving config failed", "err", err)
	}
}
