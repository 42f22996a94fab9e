package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/bridge"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CHARM_WALLET_BRIDGE_LISTEN.
const EnvPrefix = "CHARM_WALLET"

// FileName is the config file kept in the user's home directory.
const FileName = ".charm-wallet-config.json"

// Page identifies a TUI page
type Page int

const (
	PageHome Page = iota
	PageWallets
	PageDapps
	PageSettings
)

// Config represents the application configuration
type Config struct {
	RPCURLs  []RPCUrl      `json:"rpc_urls" mapstructure:"rpc_urls"`
	Wallets  []WalletEntry `json:"wallets" mapstructure:"wallets"`
	Dapps    []DApp        `json:"dapps" mapstructure:"dapps"`
	Logger   bool          `json:"logger" mapstructure:"logger"`
	Bridge   Bridge        `json:"bridge" mapstructure:"bridge"`
	Keystore Keystore      `json:"keystore" mapstructure:"keystore"`
}

// RPCUrl represents an RPC endpoint
type RPCUrl struct {
	Name   string `json:"name" mapstructure:"name"`
	URL    string `json:"url" mapstructure:"url"`
	Active bool   `json:"active" mapstructure:"active"`
}

// WalletEntry names a signing account
type WalletEntry struct {
	Address string `json:"address" mapstructure:"address"`
	Name    string `json:"name,omitempty" mapstructure:"name"`
	Active  bool   `json:"active" mapstructure:"active"`
}

// DApp is an origin allowed to open a provider socket
type DApp struct {
	Name   string `json:"name" mapstructure:"name"`
	Origin string `json:"origin" mapstructure:"origin"`
	Icon   string `json:"icon,omitempty" mapstructure:"icon"`
}

// Bridge configures the provider endpoint and its policies.
type Bridge struct {
	Listen        string `json:"listen" mapstructure:"listen"`
	ConnectPolicy string `json:"connect_policy" mapstructure:"connect_policy"`
	ApprovalMode  string `json:"approval_mode" mapstructure:"approval_mode"`
}

// Keystore points at a directory of encrypted key files. The passphrase
// comes from WALLET_PASSWORD, never from the file.
type Keystore struct {
	Dir string `json:"dir,omitempty" mapstructure:"dir"`
}

// DefaultPath returns ~/.charm-wallet-config.json
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(homeDir, FileName)
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("logger", d.Logger)
	v.SetDefault("bridge.listen", d.Bridge.Listen)
	v.SetDefault("bridge.connect_policy", d.Bridge.ConnectPolicy)
	v.SetDefault("bridge.approval_mode", d.Bridge.ApprovalMode)
	v.SetDefault("keystore.dir", d.Keystore.Dir)
}

// Load reads the config at path, applying defaults and CHARM_WALLET_*
// environment overrides. A missing file is reported with fs.ErrNotExist.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	readErr := v.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(readErr, fs.ErrNotExist) && !errors.As(readErr, &notFound) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, readErr)
		}
		readErr = fmt.Errorf("config: %s: %w", path, fs.ErrNotExist)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, readErr
}

// Save writes the config to the specified path
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// DefaultConfig returns a new configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		RPCURLs: []RPCUrl{
			{
				Name:   "Public Mainnet",
				URL:    "https://ethereum-rpc.publicnode.com",
				Active: true,
			},
		},
		Bridge: Bridge{
			Listen:        "127.0.0.1:8546",
			ConnectPolicy: string(bridge.ConnectAuto),
			ApprovalMode:  string(approval.ModeQueue),
		},
	}
}

// LoadOrCreate loads config from path, or writes and returns the default
// one if there is no file yet.
func LoadOrCreate(path string) (Config, error) {
	cfg, err := Load(path)
	if !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	// the file only gets defaults; env overrides are applied on the reload
	if err := Save(path, DefaultConfig()); err != nil {
		return cfg, err
	}
	return Load(path)
}

// SeedRPC adds url as the active endpoint when none is configured.
func (c *Config) SeedRPC(url string) {
	url = strings.TrimSpace(url)
	if len(c.RPCURLs) == 0 && url != "" {
		c.RPCURLs = []RPCUrl{{Name: "Default", URL: url, Active: true}}
	}
}

// ActiveRPC returns the URL of the active endpoint, or "".
func (c Config) ActiveRPC() string {
	for _, r := range c.RPCURLs {
		if r.Active {
			return r.URL
		}
	}
	return ""
}

// Validate normalizes dapp origins and checks the bridge policies.
// Wildcard origins are refused.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Dapps))
	for i := range c.Dapps {
		o, err := bridge.NormalizeOrigin(c.Dapps[i].Origin)
		if err != nil {
			return fmt.Errorf("config: dapp %q: %w", c.Dapps[i].Name, err)
		}
		if seen[o] {
			return fmt.Errorf("config: dapp origin %s listed twice", o)
		}
		seen[o] = true
		c.Dapps[i].Origin = o
	}
	if _, err := bridge.ParseConnectPolicy(c.Bridge.ConnectPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := approval.ParseMode(c.Bridge.ApprovalMode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Bridge.Listen == "" {
		return errors.New("config: bridge.listen is empty")
	}
	return nil
}

// AllowedOrigins lists the dapp origins in config order.
func (c Config) AllowedOrigins() []string {
	out := make([]string, 0, len(c.Dapps))
	for _, d := range c.Dapps {
		out = append(out, d.Origin)
	}
	return out
}

// WalletName returns the nickname saved for addr, if any.
func (c Config) WalletName(addr string) string {
	for _, w := range c.Wallets {
		if strings.EqualFold(w.Address, addr) {
			return w.Name
		}
	}
	return ""
}

// SetActiveWallet marks addr active, adding an entry when it is new.
func (c *Config) SetActiveWallet(addr string) {
	found := false
	for i := range c.Wallets {
		c.Wallets[i].Active = strings.EqualFold(c.Wallets[i].Address, addr)
		found = found || c.Wallets[i].Active
	}
	if !found {
		c.Wallets = append(c.Wallets, WalletEntry{Address: addr, Active: true})
	}
}

// ActiveWallet returns the address of the active wallet entry, or "".
func (c Config) ActiveWallet() string {
	for _, w := range c.Wallets {
		if w.Active {
			return w.Address
		}
	}
	return ""
}
