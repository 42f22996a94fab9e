package bridge

import (
	"bytes"
	"encoding/json"
)

// Envelope type discriminators.
const (
	TypeRequest  = "provider_request"
	TypeResponse = "provider_response"
	TypeEvent    = "provider_event"
)

// Provider methods understood by the host.
const (
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodSendTransaction = "eth_sendTransaction"
	MethodPersonalSign    = "personal_sign"
	MethodSignTypedDataV4 = "eth_signTypedData_v4"
)

// EventAccountsChanged is pushed when the accounts disclosed to an origin change.
const EventAccountsChanged = "accountsChanged"

// Port is one end of a cross-boundary message channel, the equivalent of a
// window handle that can be posted to. targetOrigin must be an explicit
// origin; implementations refuse to deliver to anything else.
type Port interface {
	PostMessage(data []byte, targetOrigin string) error
}

// MessageEvent is a message received from a Port. Source is the handle the
// receiver can reply through and is compared by identity when filtering.
type MessageEvent struct {
	Source Port
	Origin string
	Data   []byte
}

// RequestEnvelope is sent from the dapp to the host.
type RequestEnvelope struct {
	Type string      `json:"type"`
	ID   uint64      `json:"id"`
	Data RequestData `json:"data"`
}

// RequestData carries the method and its positional params, untouched.
type RequestData struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ResponseEnvelope answers exactly one RequestEnvelope with the same id.
type ResponseEnvelope struct {
	Type string       `json:"type"`
	ID   uint64       `json:"id"`
	Data ResponseData `json:"data"`
}

// ResponseData holds either Result or Error, never both.
type ResponseData struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// valid reports whether exactly one of Result and Error is set.
func (d ResponseData) valid() bool {
	return (len(d.Result) > 0) != (d.Error != nil)
}

// EventEnvelope is an out-of-band notification from the host.
type EventEnvelope struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData names the event and carries its payload.
type EventData struct {
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params"`
}

// envelopeType peeks at the discriminator without decoding the rest.
func envelopeType(data []byte) (string, bool) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		return "", false
	}
	return head.Type, true
}

// decodeParams unmarshals positional params into a slice of raw values.
// A missing or null params field is an empty list.
func decodeParams(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var params []json.RawMessage
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, err
	}
	return params, nil
}
