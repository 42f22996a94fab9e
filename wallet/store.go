// Package wallet holds the local signing accounts and the go-ethereum based
// signing delegate used by the bridge host.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoKeys is returned by ImportKeystore when a directory holds no key files.
var ErrNoKeys = errors.New("wallet: no key files found")

// Store keeps unlocked private keys in memory, in insertion order.
type Store struct {
	mu    sync.RWMutex
	keys  map[common.Address]*ecdsa.PrivateKey
	order []common.Address
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

// Add stores key and returns its address. Adding a key twice keeps its
// original position.
func (s *Store) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[addr]; !ok {
		s.order = append(s.order, addr)
	}
	s.keys[addr] = key
	return addr
}

// ImportHex adds a hex encoded private key, with or without 0x.
func (s *Store) ImportHex(hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: parse private key: %w", err)
	}
	return s.Add(key), nil
}

// Generate creates a fresh random account.
func (s *Store) Generate() (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: generate key: %w", err)
	}
	return s.Add(key), nil
}

// ImportKeystore decrypts every V3 key file in dir with passphrase and adds
// the keys. Files that are not key files are skipped.
func (s *Store) ImportKeystore(dir, passphrase string) ([]common.Address, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wallet: read keystore dir: %w", err)
	}
	var imported []common.Address
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return imported, fmt.Errorf("wallet: read %s: %w", e.Name(), err)
		}
		key, err := keystore.DecryptKey(data, passphrase)
		if err != nil {
			if errors.Is(err, keystore.ErrDecrypt) {
				return imported, fmt.Errorf("wallet: decrypt %s: %w", e.Name(), err)
			}
			continue
		}
		imported = append(imported, s.Add(key.PrivateKey))
	}
	if len(imported) == 0 {
		return nil, ErrNoKeys
	}
	return imported, nil
}

// Accounts returns the addresses in insertion order.
func (s *Store) Accounts() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.order...)
}

// PrivateKey returns the key for addr.
func (s *Store) PrivateKey(addr common.Address) (*ecdsa.PrivateKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[addr]
	return key, ok
}
