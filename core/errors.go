package orchestration

import "errors"

// Connection-level failures. Any of these ends the session; they are
// reported to the client once through a status message before teardown.
var (
	// ErrUpstreamDisconnected indicates the understanding service closed the
	// stream or the stream failed mid-session.
	ErrUpstreamDisconnected = errors.New("understanding service disconnected")

	// ErrTransportDisconnected indicates the client transport went away.
	ErrTransportDisconnected = errors.New("client transport disconnected")

	// ErrHandshakeTimeout indicates the upstream handshake did not complete
	// within the configured deadline.
	ErrHandshakeTimeout = errors.New("understanding service handshake timed out")
)
