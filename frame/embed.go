package frame

import (
	"charm-wallet-bridge/bridge"
)

// Embedding is a dapp window hosted by the wallet window.
type Embedding struct {
	Wallet, Dapp *Window
	// WalletToDapp is the wallet's reference to the dapp, the session port.
	WalletToDapp *Handle
	// DappToWallet is the dapp's reference to its parent.
	DappToWallet *Handle
	Session      *bridge.Session
	// Provider is set when it could be injected into the dapp, which only
	// works for a same-origin dapp. Cross-origin dapps install their own
	// with InstallProvider.
	Provider *bridge.Provider

	removers []func()
}

// Embed links dapp under wallet, attaches a host session for it and injects
// a provider when the origins allow it. A refused injection is not an error.
func Embed(host *bridge.Host, wallet, dapp *Window, opts ...bridge.ProviderOption) (*Embedding, error) {
	toDapp, toWallet := Link(wallet, dapp)
	session, err := host.Attach(toDapp, dapp.Origin())
	if err != nil {
		return nil, err
	}
	e := &Embedding{
		Wallet:       wallet,
		Dapp:         dapp,
		WalletToDapp: toDapp,
		DappToWallet: toWallet,
		Session:      session,
	}
	e.removers = append(e.removers, wallet.AddListener(session))

	if dapp.Origin() != wallet.Origin() {
		wallet.logger.Debug("cross-origin frame, provider injection skipped", "dapp", dapp.Origin())
		return e, nil
	}
	p, err := InstallProvider(dapp, toWallet, wallet.Origin(), opts...)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Provider = p
	return e, nil
}

// InstallProvider creates a provider inside dapp that talks to its parent
// through parent and listens on dapp's event loop.
func InstallProvider(dapp *Window, parent *Handle, walletOrigin string, opts ...bridge.ProviderOption) (*bridge.Provider, error) {
	p, err := bridge.NewProvider(parent, walletOrigin, opts...)
	if err != nil {
		return nil, err
	}
	remove := dapp.AddListener(p)
	go func() {
		<-dapp.Done()
		remove()
		p.Close()
	}()
	return p, nil
}

// Close detaches the session and closes the injected provider.
func (e *Embedding) Close() {
	for _, remove := range e.removers {
		remove()
	}
	e.removers = nil
	e.Session.Close()
	if e.Provider != nil {
		e.Provider.Close()
	}
}
