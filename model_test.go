package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"
	"charm-wallet-bridge/config"
	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/wallet"
	"charm-wallet-bridge/wsbridge"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	m    *model
	gate *approval.Gate
	host *bridge.Host
	buf  *helpers.LogBuffer
}

func newTestApp(t *testing.T, accounts int) *testApp {
	t.Helper()
	buf := helpers.NewLogBuffer(0)
	logger := log.New(buf)

	store := wallet.NewStore()
	for i := 0; i < accounts; i++ {
		_, err := store.Generate()
		require.NoError(t, err)
	}
	gate := approval.NewGate(approval.ModeQueue, logger)
	host, err := bridge.NewHost(bridge.HostOptions{
		Accounts:      store,
		Signer:        wallet.NewSigner(nil, nil, logger),
		Gate:          gate,
		ConnectPolicy: bridge.ConnectAuto,
		Logger:        logger,
	})
	require.NoError(t, err)
	server, err := wsbridge.NewServer(wsbridge.Options{Host: host, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() {
		gate.Close()
		host.Close()
	})

	cfg := config.DefaultConfig()
	m := newModel(deps{
		ctx:        context.Background(),
		cfg:        cfg,
		configPath: filepath.Join(t.TempDir(), "config.json"),
		host:       host,
		gate:       gate,
		server:     server,
		store:      store,
		endpoint:   "ws://127.0.0.1:8546" + wsbridge.ProviderPath,
		logger:     logger,
		logBuffer:  buf,
	})
	m.w, m.h = 120, 40
	return &testApp{m: &m, gate: gate, host: host, buf: buf}
}

func (a *testApp) press(keys string) tea.Cmd {
	_, cmd := a.m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)})
	return cmd
}

// present queues a connect request and hands it to the model the way
// waitForApproval would.
func (a *testApp) present(t *testing.T) <-chan approval.Decision {
	t.Helper()
	out := make(chan approval.Decision, 1)
	go func() {
		d, _ := a.gate.RequestDecision(context.Background(), approval.KindConnect, "https://dapp.example", approval.ConnectPayload{})
		out <- d
	}()
	msg := waitForApproval(context.Background(), a.gate)()
	req, ok := msg.(approvalRequestedMsg)
	require.True(t, ok, "got %T", msg)
	a.m.Update(req)
	require.NotNil(t, a.m.pending)
	return out
}

func decision(t *testing.T, ch <-chan approval.Decision) approval.Decision {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no decision delivered")
		return approval.Decision{}
	}
}

func TestApproveKey(t *testing.T) {
	a := newTestApp(t, 1)
	ch := a.present(t)

	assert.Equal(t, "https://dapp.example", a.m.pending.Origin)
	assert.NotEmpty(t, a.m.View())

	cmd := a.press("y")
	assert.NotNil(t, cmd)
	assert.Nil(t, a.m.pending)
	assert.True(t, decision(t, ch).Approved)
}

func TestRejectIsDefaultFocus(t *testing.T) {
	a := newTestApp(t, 1)
	ch := a.present(t)

	_, _ = a.m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, decision(t, ch).Approved)
}

func TestFocusApproveThenEnter(t *testing.T) {
	a := newTestApp(t, 1)
	ch := a.present(t)

	_, _ = a.m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.True(t, a.m.approveFocused)
	_, _ = a.m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, decision(t, ch).Approved)
}

func TestDialogIsModal(t *testing.T) {
	a := newTestApp(t, 1)
	ch := a.present(t)

	// page keys are swallowed while a request is on screen
	cmd := a.press("b")
	assert.Nil(t, cmd)
	assert.Equal(t, config.PageWallets, a.m.activePage)
	assert.NotNil(t, a.m.pending)

	a.press("n")
	assert.False(t, decision(t, ch).Approved)
}

func TestWithdrawnRequestIsDismissed(t *testing.T) {
	a := newTestApp(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = a.gate.RequestDecision(ctx, approval.KindConnect, "https://dapp.example", approval.ConnectPayload{})
		close(done)
	}()
	msg := waitForApproval(context.Background(), a.gate)()
	a.m.Update(msg)
	require.NotNil(t, a.m.pending)

	cancel()
	<-done
	a.m.Update(tickMsg(time.Now()))
	assert.Nil(t, a.m.pending)
}

func TestGateClosedStopsWaiting(t *testing.T) {
	a := newTestApp(t, 1)
	a.gate.Close()

	msg := waitForApproval(context.Background(), a.gate)()
	a.m.Update(msg)
	assert.True(t, a.m.gateClosed)
}

func TestActivateAccount(t *testing.T) {
	a := newTestApp(t, 2)
	require.Len(t, a.m.accounts, 2)
	assert.True(t, a.m.accounts[0].Active)

	a.m.Update(tea.KeyMsg{Type: tea.KeyDown})
	a.m.Update(tea.KeyMsg{Type: tea.KeySpace})

	active, ok := a.host.ActiveAccount()
	require.True(t, ok)
	assert.Equal(t, a.m.accounts[1].Address, active.Hex())
	assert.True(t, a.m.accounts[1].Active)
	assert.Equal(t, active.Hex(), a.m.cfg.ActiveWallet())
}

func TestPageNavigation(t *testing.T) {
	a := newTestApp(t, 0)

	a.press("b")
	assert.Equal(t, config.PageDapps, a.m.activePage)
	assert.Contains(t, a.m.View(), a.m.endpoint)

	a.press("o")
	assert.True(t, a.m.showQR)
	assert.NotEmpty(t, a.m.qr)

	a.m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, a.m.showQR)
	a.m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, config.PageWallets, a.m.activePage)
}

func TestRevokeDapp(t *testing.T) {
	a := newTestApp(t, 0)
	a.m.cfg.Dapps = []config.DApp{{Name: "Example", Origin: "https://dapp.example"}}
	require.NoError(t, a.m.server.Allow("https://dapp.example"))

	a.m.revokeDapp(0)
	assert.Empty(t, a.m.cfg.Dapps)
	assert.Empty(t, a.m.server.Allowed())

	saved, err := config.Load(a.m.configPath)
	require.NoError(t, err)
	assert.Empty(t, saved.Dapps)
}

func TestLogPanelFollowsBuffer(t *testing.T) {
	a := newTestApp(t, 0)
	a.m.logEnabled = true
	a.m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	a.m.Update(logInitMsg{})
	require.True(t, a.m.logReady)

	a.m.logger.Info("from another goroutine")
	a.m.Update(tickMsg(time.Now()))
	assert.Equal(t, a.buf.Version(), a.m.logVersion)
	assert.Contains(t, a.m.logViewport.View(), "from another goroutine")
}
