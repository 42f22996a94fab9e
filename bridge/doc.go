// Package bridge implements the dapp provider bridge: the request/response
// protocol spoken between an untrusted dapp frame and the wallet host.
//
// The dapp side is a Provider. It turns each call into a RequestEnvelope,
// tracks it in a correlation table keyed by id, and settles it when the
// matching ResponseEnvelope arrives or its timer fires, whichever is first.
//
// The wallet side is a Host. Each embedded frame (or websocket) is attached
// as a Session bound to one Port and one origin. Sessions drop traffic from
// any other source, dispatch requests by method name and always answer:
// sensitive methods wait for an approval decision before the signing
// delegate is called, and every failure becomes an error envelope.
//
// Both sides only ever talk through Port, so the same code runs over
// in-process windows (package frame) and websockets (package wsbridge).
package bridge
