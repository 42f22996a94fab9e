package main

import (
	"context"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"
	"charm-wallet-bridge/config"
	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/rpc"
	"charm-wallet-bridge/styles"
	"charm-wallet-bridge/views/wallets"
	"charm-wallet-bridge/wallet"
	"charm-wallet-bridge/wsbridge"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
)

// -------------------- MODEL --------------------

// deps are the long-lived services the TUI drives
type deps struct {
	ctx        context.Context
	cfg        config.Config
	configPath string

	host     *bridge.Host
	gate     *approval.Gate
	server   *wsbridge.Server
	store    *wallet.Store
	endpoint string

	client *rpc.Client
	rpcErr error

	logger    *log.Logger
	logBuffer *helpers.LogBuffer
}

// model represents the application state following The Elm Architecture
type model struct {
	w, h int
	ctx  context.Context

	activePage config.Page
	prevPage   config.Page

	cfg        config.Config
	configPath string

	host     *bridge.Host
	gate     *approval.Gate
	server   *wsbridge.Server
	store    *wallet.Store
	endpoint string

	// signing accounts
	accounts       []wallets.Account
	selectedWallet int
	activeAddress  string

	// details state
	spin         spinner.Model
	loading      bool
	details      rpc.WalletDetails
	detailsCache map[string]rpc.WalletDetails
	ethClient    *rpc.Client
	rpcURL       string
	rpcErr       error
	tokenWatch   []rpc.WatchedToken

	// clipboard feedback
	copiedMsg string

	// forms: nickname on the wallets page, allow-origin on the dapps page
	form       *huh.Form
	nicknaming bool
	homeForm   *huh.Form

	// dapps state
	dappMode        string // "list", "add"
	selectedDappIdx int
	showQR          bool
	qr              string

	// settings state
	selectedRPCIdx int
	restartNeeded  bool

	// approval dialog
	pending        *approval.Request
	approveFocused bool
	approvalCopied string
	gateClosed     bool

	// logger panel
	logEnabled  bool
	logger      *log.Logger
	logBuffer   *helpers.LogBuffer
	logViewport viewport.Model
	logReady    bool
	logSpinner  spinner.Model
	logVersion  uint64
}

// newModel builds the TUI state around the running bridge
func newModel(d deps) model {
	ctx := d.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(styles.CAccent2)

	// starter token watchlist (Mainnet)
	watch := []rpc.WatchedToken{
		{Symbol: "WETH", Decimals: 18, Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")},
		{Symbol: "USDC", Decimals: 6, Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")},
		{Symbol: "USDT", Decimals: 6, Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")},
		{Symbol: "DAI", Decimals: 18, Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")},
	}

	vp := viewport.New(0, 10) // resized on the first WindowSizeMsg
	vp.Style = lipgloss.NewStyle().
		Foreground(styles.CText).
		Background(styles.CPanel)

	logSpin := spinner.New()
	logSpin.Spinner = spinner.Dot
	logSpin.Style = lipgloss.NewStyle().Foreground(styles.CAccent2)

	m := model{
		ctx:          ctx,
		activePage:   config.PageWallets,
		prevPage:     config.PageWallets,
		cfg:          d.cfg,
		configPath:   d.configPath,
		host:         d.host,
		gate:         d.gate,
		server:       d.server,
		store:        d.store,
		endpoint:     d.endpoint,
		spin:         sp,
		detailsCache: make(map[string]rpc.WalletDetails),
		ethClient:    d.client,
		rpcURL:       d.cfg.ActiveRPC(),
		rpcErr:       d.rpcErr,
		tokenWatch:   watch,
		dappMode:     "list",
		logEnabled:   d.cfg.Logger,
		logger:       d.logger,
		logBuffer:    d.logBuffer,
		logViewport:  vp,
		logSpinner:   logSpin,
	}
	m.refreshAccounts()
	for i, a := range m.accounts {
		if a.Active {
			m.selectedWallet = i
		}
	}
	return m
}

// Init implements tea.Model interface and returns initial commands
func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spin.Tick, tick(), waitForApproval(m.ctx, m.gate)}
	if m.logEnabled {
		cmds = append(cmds, initLogViewport(), m.logSpinner.Tick)
	}
	if len(m.accounts) > 0 {
		addr := common.HexToAddress(m.accounts[m.selectedWallet].Address)
		cmds = append(cmds, loadDetails(m.ethClient, addr, m.tokenWatch))
	}
	return tea.Batch(cmds...)
}
