package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"
	"charm-wallet-bridge/config"
	"charm-wallet-bridge/helpers"
	"charm-wallet-bridge/rpc"
	"charm-wallet-bridge/wallet"
	"charm-wallet-bridge/wsbridge"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// -------------------- MAIN --------------------

type options struct {
	configPath string
	listen     string
	logLevel   string
	dev        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "charm-wallet-bridge",
		Short: "Terminal Ethereum wallet that serves an EIP-1193 provider to dApps",
		Long: `Runs the wallet TUI and a local websocket endpoint that allow-listed dApp
origins connect to. Account disclosure, transactions and signatures only
happen after you approve them in the TUI.

The keystore passphrase is read from WALLET_PASSWORD.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "provider endpoint address (overrides bridge.listen)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "add an ephemeral signing account")
	return cmd
}

func newLogger(buf *helpers.LogBuffer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := log.NewWithOptions(buf, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           lvl,
	})
	logger.SetStyles(logStyles())
	return logger, nil
}

func loadAccounts(cfg config.Config, dev bool, logger *log.Logger) (*wallet.Store, error) {
	store := wallet.NewStore()
	if cfg.Keystore.Dir != "" {
		addrs, err := store.ImportKeystore(cfg.Keystore.Dir, os.Getenv("WALLET_PASSWORD"))
		switch {
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, wallet.ErrNoKeys):
			logger.Warn("no keystore accounts", "dir", cfg.Keystore.Dir)
		case err != nil:
			return nil, fmt.Errorf("keystore %s: %w", cfg.Keystore.Dir, err)
		default:
			logger.Info("keystore loaded", "dir", cfg.Keystore.Dir, "accounts", len(addrs))
		}
	}
	if dev {
		addr, err := store.Generate()
		if err != nil {
			return nil, err
		}
		logger.Warn("ephemeral dev account added", "account", addr.Hex())
	}
	return store, nil
}

func run(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadOrCreate(opts.configPath)
	if err != nil {
		return err
	}
	cfg.SeedRPC(os.Getenv("ETH_RPC_URL"))
	if opts.listen != "" {
		cfg.Bridge.Listen = opts.listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logBuf := helpers.NewLogBuffer(0)
	logger, err := newLogger(logBuf, opts.logLevel)
	if err != nil {
		return err
	}

	store, err := loadAccounts(cfg, opts.dev, logger)
	if err != nil {
		return err
	}

	var (
		client  *rpc.Client
		rpcErr  error
		backend rpc.Backend
	)
	if url := cfg.ActiveRPC(); url != "" {
		res := rpc.Connect(url)
		client, rpcErr = res.Client, res.Error
		if rpcErr != nil {
			logger.Warn("rpc unavailable, signing offline", "url", url, "err", rpcErr)
		} else {
			backend = client
			logger.Info("rpc connected", "url", url)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mode, err := approval.ParseMode(cfg.Bridge.ApprovalMode)
	if err != nil {
		return err
	}
	gate := approval.NewGate(mode, logger.WithPrefix("approval"))
	defer gate.Close()

	host, err := bridge.NewHost(bridge.HostOptions{
		Accounts:      store,
		Signer:        wallet.NewSigner(backend, nil, logger.WithPrefix("signer")),
		Gate:          gate,
		ConnectPolicy: bridge.ConnectPolicy(cfg.Bridge.ConnectPolicy),
		Logger:        logger.WithPrefix("bridge"),
		Metrics:       bridge.NewMetrics(reg),
	})
	if err != nil {
		return err
	}
	defer host.Close()

	if active := cfg.ActiveWallet(); active != "" && common.IsHexAddress(active) {
		if err := host.SwitchAccount(common.HexToAddress(active)); err != nil {
			logger.Warn("configured active wallet has no key", "account", active)
		}
	}

	server, err := wsbridge.NewServer(wsbridge.Options{
		Host:           host,
		AllowedOrigins: cfg.AllowedOrigins(),
		Registry:       reg,
		Logger:         logger.WithPrefix("ws"),
	})
	if err != nil {
		return err
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	ready := make(chan net.Addr, 1)
	served := make(chan error, 1)
	go func() { served <- server.ListenAndServe(serveCtx, cfg.Bridge.Listen, ready) }()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-served:
		return err
	}

	m := newModel(deps{
		ctx:        ctx,
		cfg:        cfg,
		configPath: opts.configPath,
		host:       host,
		gate:       gate,
		server:     server,
		store:      store,
		endpoint:   "ws://" + addr.String() + wsbridge.ProviderPath,
		client:     client,
		rpcErr:     rpcErr,
		logger:     logger,
		logBuffer:  logBuf,
	})
	p := tea.NewProgram(&m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		runErr = nil
	}

	// reject whatever is still waiting before the sockets go away
	gate.Close()
	cancelServe()
	select {
	case err := <-served:
		if err != nil && runErr == nil {
			runErr = err
		}
	case <-time.After(6 * time.Second):
	}
	return runErr
}
