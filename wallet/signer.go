package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"

	"charm-wallet-bridge/rpc"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TxFields is the transaction object of eth_sendTransaction. Missing
// fields are filled from the backend when one is configured.
type TxFields struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 *hexutil.Bytes  `json:"data,omitempty"`
	Input                *hexutil.Bytes  `json:"input,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// Calldata returns input, falling back to data.
func (f TxFields) Calldata() []byte {
	if f.Input != nil {
		return *f.Input
	}
	if f.Data != nil {
		return *f.Data
	}
	return nil
}

// ValueWei returns the value or zero.
func (f TxFields) ValueWei() *big.Int {
	if f.Value == nil {
		return new(big.Int)
	}
	return f.Value.ToInt()
}

var errOffline = errors.New("wallet: no RPC backend to fill missing transaction fields")

// ErrInvalidTransaction marks transaction fields that cannot be signed as
// given, such as a chainId other than the connected chain's.
var ErrInvalidTransaction = errors.New("wallet: invalid transaction")

// Signer signs with go-ethereum. When Backend is set, missing transaction
// fields are filled from it and signed transactions are broadcast.
type Signer struct {
	Backend rpc.Backend
	// ChainID is used when neither the transaction nor the backend gives one.
	ChainID *big.Int
	Logger  *log.Logger
}

// NewSigner returns a signer. backend may be nil for offline signing.
func NewSigner(backend rpc.Backend, chainID *big.Int, logger *log.Logger) *Signer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Signer{Backend: backend, ChainID: chainID, Logger: logger}
}

// SignPersonalMessage signs the EIP-191 hash of msg. V is 27 or 28.
func (s *Signer) SignPersonalMessage(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTypedData signs the EIP-712 hash of td. V is 27 or 28.
func (s *Signer) SignTypedData(td apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("wallet: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTransaction builds, signs and (with a backend) broadcasts the
// transaction, returning its hash.
func (s *Signer) SignTransaction(ctx context.Context, f TxFields, key *ecdsa.PrivateKey) (common.Hash, error) {
	chainID, err := s.chainID(ctx, f)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := s.buildTransaction(ctx, f, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("wallet: sign transaction: %w", err)
	}
	if s.Backend == nil {
		s.Logger.Warn("transaction signed but not broadcast (offline)", "hash", signed.Hash().Hex())
		return signed.Hash(), nil
	}
	if err := s.Backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("wallet: broadcast transaction: %w", err)
	}
	s.Logger.Info("transaction broadcast", "hash", signed.Hash().Hex(), "from", f.From.Hex(), "nonce", signed.Nonce())
	return signed.Hash(), nil
}

func (s *Signer) buildTransaction(ctx context.Context, f TxFields, chainID *big.Int) (*types.Transaction, error) {
	var (
		nonce uint64
		err   error
	)
	switch {
	case f.Nonce != nil:
		nonce = uint64(*f.Nonce)
	case s.Backend != nil:
		if nonce, err = s.Backend.PendingNonceAt(ctx, f.From); err != nil {
			return nil, fmt.Errorf("wallet: fetch nonce: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: nonce", errOffline)
	}

	value := f.ValueWei()
	data := f.Calldata()

	var gas uint64
	switch {
	case f.Gas != nil:
		gas = uint64(*f.Gas)
	case s.Backend != nil:
		gas, err = s.Backend.EstimateGas(ctx, ethereum.CallMsg{From: f.From, To: f.To, Value: value, Data: data})
		if err != nil {
			return nil, fmt.Errorf("wallet: estimate gas: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: gas", errOffline)
	}

	if f.MaxFeePerGas != nil || f.MaxPriorityFeePerGas != nil {
		tip, err := s.tipCap(ctx, f)
		if err != nil {
			return nil, err
		}
		feeCap := tip
		if f.MaxFeePerGas != nil {
			feeCap = f.MaxFeePerGas.ToInt()
		}
		if feeCap.Cmp(tip) < 0 {
			if f.MaxPriorityFeePerGas != nil {
				return nil, fmt.Errorf("%w: maxFeePerGas %s is below maxPriorityFeePerGas %s", ErrInvalidTransaction, feeCap, tip)
			}
			// a suggested tip never exceeds the dapp's cap
			tip = new(big.Int).Set(feeCap)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        f.To,
			Value:     value,
			Data:      data,
		}), nil
	}

	var gasPrice *big.Int
	switch {
	case f.GasPrice != nil:
		gasPrice = f.GasPrice.ToInt()
	case s.Backend != nil:
		if gasPrice, err = s.Backend.SuggestGasPrice(ctx); err != nil {
			return nil, fmt.Errorf("wallet: suggest gas price: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: gasPrice", errOffline)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       f.To,
		Value:    value,
		Data:     data,
	}), nil
}

func (s *Signer) tipCap(ctx context.Context, f TxFields) (*big.Int, error) {
	if f.MaxPriorityFeePerGas != nil {
		return f.MaxPriorityFeePerGas.ToInt(), nil
	}
	if s.Backend == nil {
		return nil, fmt.Errorf("%w: maxPriorityFeePerGas", errOffline)
	}
	tip, err := s.Backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet: suggest tip: %w", err)
	}
	return tip, nil
}

func (s *Signer) chainID(ctx context.Context, f TxFields) (*big.Int, error) {
	if s.Backend != nil {
		id, err := s.Backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("wallet: fetch chain id: %w", err)
		}
		if f.ChainID != nil && f.ChainID.ToInt().Cmp(id) != 0 {
			return nil, fmt.Errorf("%w: chainId %s does not match the connected chain %s", ErrInvalidTransaction, f.ChainID.ToInt(), id)
		}
		return id, nil
	}
	if f.ChainID != nil {
		return f.ChainID.ToInt(), nil
	}
	if s.ChainID != nil {
		return s.ChainID, nil
	}
	return nil, fmt.Errorf("%w: chainId", errOffline)
}
