// Package control implements the local control channel between the host
// process and the engine.
//
// The channel listens on a Unix domain socket and serves at most one peer
// at a time. Each inbound line is a JSON request; requests carrying an id
// are answered with exactly one correlated reply once their handler
// settles, requests without an id are fire-and-forget.
//
// Connection lifecycle:
//
//	accept -> active -> end-of-stream | Close | read error -> cleared
//
// A second peer that connects while one is active is disconnected
// immediately and the first peer is left undisturbed. Losing the peer does
// not close the channel; it keeps listening for the next connection until
// Close is called.
//
// Replies are only written to the connection that produced the request.
// Every mutation of the active-connection reference is guarded by an
// identity check so a stale event from an earlier connection can never
// tear down a newer one.
package control
