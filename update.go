package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"
	"charm-wallet-bridge/config"
	"charm-wallet-bridge/helpers"
	approvalview "charm-wallet-bridge/views/approval"
	"charm-wallet-bridge/views/dapps"
	"charm-wallet-bridge/views/home"
	logview "charm-wallet-bridge/views/log"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
)

// -------------------- TEMP FORM STORAGE --------------------
// Package-level so huh can keep pointers across model copies
var (
	tempNicknameField string
	tempDappName      string
	tempDappOrigin    string
	tempDappIcon      string
)

func (m *model) createNicknameForm() {
	if len(m.accounts) == 0 {
		return
	}
	tempNicknameField = m.accounts[m.selectedWallet].Name

	placeholderText := "Enter nickname"
	if tempNicknameField != "" {
		placeholderText = tempNicknameField
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Account Nickname").
				Description("Set a friendly name for this signing account").
				Value(&tempNicknameField).
				Placeholder(placeholderText),
		),
	).WithTheme(huh.ThemeCatppuccin())
	m.nicknaming = true
	m.form.Init()
}

func (m *model) createAllowDappForm() {
	tempDappName = ""
	tempDappOrigin = ""
	tempDappIcon = ""

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("dApp Name").
				Description("A friendly name for this dApp").
				Value(&tempDappName).
				Placeholder("Uniswap"),

			huh.NewInput().
				Title("Origin").
				Description("Only pages served from this exact origin may connect").
				Value(&tempDappOrigin).
				Placeholder("https://app.uniswap.org").
				Validate(func(s string) error {
					o, err := bridge.NormalizeOrigin(s)
					if err != nil {
						return err
					}
					for _, d := range m.cfg.Dapps {
						if d.Origin == o {
							return fmt.Errorf("%s is already allowed", o)
						}
					}
					return nil
				}),

			huh.NewInput().
				Title("Icon").
				Description("Icon or emoji for the dApp (optional)").
				Value(&tempDappIcon).
				Placeholder("🦄"),
		),
	).WithTheme(huh.ThemeCatppuccin())
	m.dappMode = "add"
	m.form.Init()
}

func (m *model) closeForm() {
	m.form = nil
	m.nicknaming = false
	m.dappMode = "list"
}

func (m *model) goTo(p config.Page) tea.Cmd {
	if p == config.PageHome {
		m.prevPage = m.activePage
		m.homeForm = home.CreateForm(len(m.accounts), len(m.cfg.Dapps), len(m.host.Connections()))
	}
	m.activePage = p
	m.showQR = false
	if p == config.PageWallets {
		return m.loadSelectedWalletDetails()
	}
	return nil
}

// -------------------- UPDATE --------------------

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// state fed by other goroutines is handled whatever has focus
	switch msg := msg.(type) {
	case approvalRequestedMsg:
		m.pending = msg.req
		m.approveFocused = false
		m.approvalCopied = ""
		m.addLog("warning", "Approval needed: "+approvalview.Summary(msg.req), "id", msg.req.ID)
		return m, nil

	case approvalStoppedMsg:
		m.gateClosed = true
		if !errors.Is(msg.err, context.Canceled) && !errors.Is(msg.err, approval.ErrClosed) {
			m.addLog("error", "Approval queue stopped", "err", msg.err)
		}
		return m, nil

	case tickMsg:
		m.updateLogViewport()
		cmds := []tea.Cmd{tick()}
		if m.pending != nil && m.pending.Decided() {
			m.addLog("info", "Request withdrawn by the site", "origin", m.pending.Origin, "id", m.pending.ID)
			m.pending = nil
			if !m.gateClosed {
				cmds = append(cmds, waitForApproval(m.ctx, m.gate))
			}
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.w, m.h = msg.Width, msg.Height
		m.logViewport.Width = helpers.Max(0, msg.Width-6)
		m.logViewport.Height = logview.Height(msg.Height)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		var cmds []tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
		if m.logEnabled && !m.logReady {
			m.logSpinner, cmd = m.logSpinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case logInitMsg:
		if !m.logEnabled {
			return m, nil
		}
		m.logReady = true
		m.logVersion = 0
		m.updateLogViewport()
		m.logViewport.GotoBottom()
		m.addLog("info", "Logger enabled")
		return m, nil

	case detailsLoadedMsg:
		m.loading = false
		m.details = msg.d
		if m.details.Address != "" {
			m.detailsCache[strings.ToLower(m.details.Address)] = m.details
		}
		if m.details.ErrMessage != "" {
			m.addLog("error", fmt.Sprintf("Wallet `%s`: %s", helpers.ShortenAddr(m.details.Address), m.details.ErrMessage))
		} else {
			m.addLog("success", fmt.Sprintf("Loaded details for `%s` - ETH: %s", helpers.ShortenAddr(m.details.Address), helpers.FormatETH(m.details.EthWei)))
		}
		return m, nil

	case clipboardCopiedMsg:
		if msg.err != nil {
			m.addLog("error", "Clipboard unavailable", "err", msg.err)
			return m, nil
		}
		if m.pending != nil {
			m.approvalCopied = "✓ Copied " + msg.what
		} else {
			m.copiedMsg = "✓ Copied " + msg.what
		}
		m.addLog("info", "Copied "+msg.what+" to clipboard")
		return m, clearCopied()

	case clearCopiedMsg:
		m.copiedMsg = ""
		m.approvalCopied = ""
		return m, nil
	}

	// the approval dialog is modal
	if m.pending != nil {
		if key, ok := msg.(tea.KeyMsg); ok {
			return m.updateApproval(key)
		}
		return m, nil
	}

	if m.form != nil {
		return m.updateForm(msg)
	}
	if m.activePage == config.PageHome && m.homeForm != nil {
		return m.updateHome(msg)
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	// global keys
	switch key.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "l", "L":
		m.logEnabled = !m.logEnabled
		m.cfg.Logger = m.logEnabled
		m.saveConfig()
		if m.logEnabled {
			m.logReady = false
			return m, tea.Batch(initLogViewport(), m.logSpinner.Tick)
		}
		m.logReady = false
		return m, nil

	case "pgup", "pgdown":
		if m.logEnabled && m.logReady {
			var cmd tea.Cmd
			m.logViewport, cmd = m.logViewport.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch m.activePage {
	case config.PageWallets:
		return m.updateWallets(key)
	case config.PageDapps:
		return m.updateDapps(key)
	case config.PageSettings:
		return m.updateSettings(key)
	}
	return m, nil
}

func (m *model) updateApproval(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "left", "right", "tab", "shift+tab":
		m.approveFocused = !m.approveFocused
	case "c":
		if text := approvalview.Copyable(m.pending); text != "" {
			return m, copyToClipboard(text, "payload")
		}
	case "y", "Y":
		return m, m.decide(true)
	case "n", "N", "esc":
		return m, m.decide(false)
	case "enter":
		return m, m.decide(m.approveFocused)
	}
	return m, nil
}

// decide answers the presented request and waits for the next one
func (m *model) decide(approve bool) tea.Cmd {
	req := m.pending
	m.pending = nil

	var err error
	if approve {
		err = req.Approve()
	} else {
		err = req.Reject("")
	}
	switch {
	case errors.Is(err, approval.ErrAlreadyDecided):
		m.addLog("info", "Request was withdrawn before the decision", "origin", req.Origin, "id", req.ID)
	case err != nil:
		m.addLog("error", "Decision not delivered", "err", err)
	case approve:
		m.addLog("success", "Approved "+approvalview.Title(req.Kind), "origin", req.Origin, "id", req.ID)
	default:
		m.addLog("info", "Rejected "+approvalview.Title(req.Kind), "origin", req.Origin, "id", req.ID)
	}

	if m.gateClosed {
		return nil
	}
	return waitForApproval(m.ctx, m.gate)
}

func (m *model) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.closeForm()
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
		switch m.form.State {
		case huh.StateCompleted:
			if m.nicknaming {
				m.saveNickname()
			} else {
				m.allowDapp()
			}
			m.closeForm()
			return m, nil
		case huh.StateAborted:
			m.closeForm()
			return m, nil
		}
	}
	return m, cmd
}

func (m *model) saveNickname() {
	if len(m.accounts) == 0 {
		return
	}
	addr := m.accounts[m.selectedWallet].Address
	name := strings.TrimSpace(tempNicknameField)

	found := false
	for i := range m.cfg.Wallets {
		if strings.EqualFold(m.cfg.Wallets[i].Address, addr) {
			m.cfg.Wallets[i].Name = name
			found = true
			break
		}
	}
	if !found {
		m.cfg.Wallets = append(m.cfg.Wallets, config.WalletEntry{Address: addr, Name: name})
	}
	m.saveConfig()
	m.refreshAccounts()

	if name == "" {
		m.addLog("info", fmt.Sprintf("Cleared nickname for wallet `%s`", helpers.ShortenAddr(addr)))
		return
	}
	m.addLog("success", fmt.Sprintf("Set nickname `%s` for wallet `%s`", name, helpers.ShortenAddr(addr)))
}

func (m *model) allowDapp() {
	origin, err := bridge.NormalizeOrigin(tempDappOrigin)
	if err != nil {
		m.addLog("error", "Origin not allowed", "err", err)
		return
	}
	if err := m.server.Allow(origin); err != nil {
		m.addLog("error", "Origin not allowed", "err", err)
		return
	}
	name := strings.TrimSpace(tempDappName)
	m.cfg.Dapps = append(m.cfg.Dapps, config.DApp{Name: name, Origin: origin, Icon: strings.TrimSpace(tempDappIcon)})
	m.selectedDappIdx = len(m.cfg.Dapps) - 1
	m.saveConfig()
	m.addLog("success", "Allowed dApp origin `"+origin+"`")
}

func (m *model) updateHome(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.homeForm = nil
			return m, m.goTo(m.prevPage)
		case "ctrl+c":
			return m, tea.Quit
		}
	}

	form, cmd := m.homeForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.homeForm = f
		if m.homeForm.State == huh.StateCompleted {
			m.homeForm = nil
			switch home.TempSelection {
			case "dapps":
				return m, m.goTo(config.PageDapps)
			case "settings":
				return m, m.goTo(config.PageSettings)
			default:
				return m, m.goTo(config.PageWallets)
			}
		}
	}
	return m, cmd
}

func (m *model) updateWallets(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if m.selectedWallet > 0 {
			m.selectedWallet--
			return m, m.loadSelectedWalletDetails()
		}
	case "down", "j":
		if m.selectedWallet < len(m.accounts)-1 {
			m.selectedWallet++
			return m, m.loadSelectedWalletDetails()
		}
	case " ":
		if len(m.accounts) == 0 {
			return m, nil
		}
		addr := m.accounts[m.selectedWallet].Address
		if err := m.host.SwitchAccount(common.HexToAddress(addr)); err != nil {
			m.addLog("error", "Activating account failed", "err", err)
			return m, nil
		}
		m.cfg.SetActiveWallet(addr)
		m.saveConfig()
		m.refreshAccounts()
		m.addLog("success", fmt.Sprintf("Activated account: %s", helpers.ShortenAddr(addr)))
	case "r":
		if len(m.accounts) > 0 {
			delete(m.detailsCache, strings.ToLower(m.accounts[m.selectedWallet].Address))
			return m, m.loadSelectedWalletDetails()
		}
	case "c":
		if len(m.accounts) > 0 {
			return m, copyToClipboard(m.accounts[m.selectedWallet].Address, "address")
		}
	case "n":
		m.createNicknameForm()
	case "b":
		return m, m.goTo(config.PageDapps)
	case "s":
		return m, m.goTo(config.PageSettings)
	case "h":
		return m, m.goTo(config.PageHome)
	case "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) updateDapps(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(m.cfg.Dapps)
	switch key.String() {
	case "tab", "right":
		if n > 0 {
			m.selectedDappIdx = (m.selectedDappIdx + 1) % n
		}
	case "shift+tab", "left":
		if n > 0 {
			m.selectedDappIdx = (m.selectedDappIdx - 1 + n) % n
		}
	case "a":
		m.showQR = false
		m.createAllowDappForm()
	case "x":
		if n == 0 {
			return m, nil
		}
		origin := m.cfg.Dapps[m.selectedDappIdx].Origin
		if m.host.Disconnect(origin) {
			m.addLog("success", "Disconnected `"+origin+"`")
		} else {
			m.addLog("info", "`"+origin+"` is not connected")
		}
	case "d":
		if n == 0 {
			return m, nil
		}
		m.revokeDapp(m.selectedDappIdx)
	case "o":
		m.showQR = !m.showQR
		if m.showQR && m.qr == "" {
			m.qr = helpers.QR(m.endpoint)
		}
	case "c":
		return m, copyToClipboard(m.endpoint, "endpoint")
	case "h":
		return m, m.goTo(config.PageHome)
	case "esc":
		if m.showQR {
			m.showQR = false
			return m, nil
		}
		return m, m.goTo(config.PageWallets)
	}
	return m, nil
}

// revokeDapp removes an origin from the allow-list, closes its sockets and
// forgets its connection
func (m *model) revokeDapp(idx int) {
	origin := m.cfg.Dapps[idx].Origin
	m.server.Revoke(origin)
	m.host.Disconnect(origin)
	m.cfg.Dapps = append(m.cfg.Dapps[:idx], m.cfg.Dapps[idx+1:]...)
	if m.selectedDappIdx >= len(m.cfg.Dapps) {
		m.selectedDappIdx = helpers.Max(0, len(m.cfg.Dapps)-1)
	}
	m.saveConfig()
	m.addLog("success", "Revoked `"+origin+"`")
}

func (m *model) updateSettings(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if m.selectedRPCIdx > 0 {
			m.selectedRPCIdx--
		}
	case "down", "j":
		if m.selectedRPCIdx < len(m.cfg.RPCURLs)-1 {
			m.selectedRPCIdx++
		}
	case "enter":
		if m.selectedRPCIdx >= len(m.cfg.RPCURLs) {
			return m, nil
		}
		for i := range m.cfg.RPCURLs {
			m.cfg.RPCURLs[i].Active = i == m.selectedRPCIdx
		}
		m.saveConfig()
		m.restartNeeded = m.cfg.ActiveRPC() != m.rpcURL
		m.addLog("success", "Active RPC set to `"+m.cfg.RPCURLs[m.selectedRPCIdx].Name+"`")
	case "h":
		return m, m.goTo(config.PageHome)
	case "esc":
		return m, m.goTo(config.PageWallets)
	}
	return m, nil
}

// dappEntries joins the allow-list with the live connection table
func (m *model) dappEntries() []dapps.Entry {
	conns := make(map[string]bridge.Connection)
	for _, c := range m.host.Connections() {
		conns[c.Origin] = c
	}
	entries := make([]dapps.Entry, 0, len(m.cfg.Dapps))
	for _, d := range m.cfg.Dapps {
		c, ok := conns[d.Origin]
		entries = append(entries, dapps.Entry{
			Name:      d.Name,
			Origin:    d.Origin,
			Icon:      d.Icon,
			Connected: ok,
			Accounts:  c.Accounts,
			Since:     c.ConnectedAt,
		})
	}
	return entries
}
