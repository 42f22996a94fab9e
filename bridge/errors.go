package bridge

import (
	"errors"
	"fmt"
)

// Error codes carried in ResponseEnvelope errors.
const (
	CodeUserRejectedConnection = 4001
	CodeDisconnected           = 4900
	CodeUserRejected           = 5000
	CodeInvalidParams          = -32602
	CodeInternal               = -32603
)

// RPCError is the {code, message} object carried by error responses.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

var (
	// ErrRequestTimeout rejects a call that got no response in time.
	ErrRequestTimeout = errors.New("bridge: request timed out")

	// ErrProviderClosed rejects calls still pending when a provider closes.
	ErrProviderClosed = &RPCError{Code: CodeDisconnected, Message: "Provider closed"}

	// ErrSignerNotFound means no key material exists for the requested address.
	ErrSignerNotFound = &RPCError{Code: CodeInternal, Message: "Signer not found"}

	// ErrWildcardOrigin is returned when "*" is used where an explicit origin is required.
	ErrWildcardOrigin = errors.New("bridge: wildcard target origin is not allowed")

	errDuplicateID = errors.New("bridge: request id already pending")
)

func invalidParams(format string, args ...any) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func unsupportedMethod(method string) *RPCError {
	return &RPCError{Code: CodeInternal, Message: fmt.Sprintf("Unsupported method: %s", method)}
}

// toRPCError converts any dispatch failure into a wire error.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RPCError{Code: CodeInternal, Message: err.Error()}
}
