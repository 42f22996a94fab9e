package approval

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ConnectPayload asks to disclose Account to an origin.
type ConnectPayload struct {
	Account common.Address
}

// TransactionPayload describes a transaction a dapp wants sent.
type TransactionPayload struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
	// Fields is the indented JSON of the submitted transaction object.
	Fields string
}

// MessagePayload describes a personal_sign request. Text holds the decoded
// message when it is readable, otherwise the raw value.
type MessagePayload struct {
	Address common.Address
	Raw     string
	Text    string
	Decoded bool
}

// TypedDataPayload describes an EIP-712 signing request.
type TypedDataPayload struct {
	Address     common.Address
	PrimaryType string
	Domain      string
	Pretty      string
}
