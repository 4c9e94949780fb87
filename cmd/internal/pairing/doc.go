// Package pairing implements short-lived, single-use login tickets that
// carry an authentication from one device to another.
//
// The web QR login flow ("scan to log the browser in") and the
// web-to-mobile flow ("scan to log the phone in") share the same state
// machine; only who is authenticated at create versus confirm time differs,
// and that distinction lives in the HTTP handlers. A Coordinator therefore
// gets instantiated once per flow over the same Store implementation.
//
// Ticket confirmation is the only multi-writer race in the subsystem:
// Pending -> Confirmed plus session minting happens as one atomic unit
// under the store lock, so exactly one of N concurrent confirmations wins.
package pairing
