package main

import (
	"time"

	"charm-wallet-bridge/approval"
	"charm-wallet-bridge/rpc"
)

// -------------------- TEA MESSAGES --------------------

// approvalRequestedMsg carries the next request the user must decide on
type approvalRequestedMsg struct {
	req *approval.Request
}

// approvalStoppedMsg means the gate closed or the program is exiting
type approvalStoppedMsg struct {
	err error
}

// clipboardCopiedMsg reports a clipboard write
type clipboardCopiedMsg struct {
	what string
	err  error
}

// clearCopiedMsg clears clipboard feedback
type clearCopiedMsg struct{}

// logInitMsg signals that log viewport should be initialized
type logInitMsg struct{}

// tickMsg refreshes state owned by other goroutines (log, connections)
type tickMsg time.Time

// detailsLoadedMsg contains wallet balance details after loading
type detailsLoadedMsg struct {
	d rpc.WalletDetails
}
