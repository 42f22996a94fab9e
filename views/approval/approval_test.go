package approval

import (
	"encoding/json"
	"strings"
	"testing"

	"charm-wallet-bridge/approval"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func request(kind approval.Kind, payload any) *approval.Request {
	return &approval.Request{ID: 1, Kind: kind, Origin: "https://dapp.example", Payload: payload}
}

func TestRenderEscapesRawMessage(t *testing.T) {
	req := request(approval.KindMessageSign, approval.MessagePayload{
		Address: signer,
		Raw:     "\x1b[2J\x1b[HLogin to dapp.example",
		Text:    "\x1b[2J\x1b[HLogin to dapp.example",
	})

	out := Render(req, 1, false, "", 90)
	assert.NotContains(t, out, "\x1b[2J")
	assert.NotContains(t, out, "\x1b[H")
	assert.Contains(t, out, `\x1b[2J`)
	assert.Contains(t, out, "Login to dapp.example")
}

func TestRenderEscapesTypedDataFields(t *testing.T) {
	// JSON escapes are already decoded by the time the payload is built
	var td apitypes.TypedData
	require.NoError(t, json.Unmarshal([]byte(`{
		"types": {"EIP712Domain": [], "M": [{"name": "a", "type": "string"}]},
		"primaryType": "\u001b[8mM",
		"domain": {"name": "\u001b[8mhidden"},
		"message": {"a": "x"}
	}`), &td))
	require.True(t, strings.HasPrefix(td.PrimaryType, "\x1b"))

	req := request(approval.KindTypedDataSign, approval.TypedDataPayload{
		Address:     signer,
		PrimaryType: td.PrimaryType,
		Domain:      td.Domain.Name,
		Pretty:      "{\n  \"note\": \"\x1b[8mhidden\"\n}",
	})

	out := Render(req, 1, false, "", 90)
	assert.NotContains(t, out, "\x1b[8m")
	assert.Contains(t, out, `\x1b[8mM`)
	assert.NotContains(t, Summary(req), "\x1b")
}

func TestRenderEscapesTransactionFields(t *testing.T) {
	req := request(approval.KindTransaction, approval.TransactionPayload{
		From:   signer,
		Fields: "{\n  \"memo\": \"\x1b]0;pwned\x07\"\n}",
	})

	out := Render(req, 1, false, "", 90)
	assert.NotContains(t, out, "\x07")
	assert.Contains(t, out, `\x1b]0;pwned\a`)
}

func TestRenderKeepsReadableMessage(t *testing.T) {
	req := request(approval.KindMessageSign, approval.MessagePayload{
		Address: signer,
		Raw:     "0x48656c6c6f",
		Text:    "Hello",
		Decoded: true,
	})

	out := Render(req, 3, true, "", 90)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "2 more waiting")
	assert.Equal(t, "Hello", Copyable(req))
}
