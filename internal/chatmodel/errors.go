package chatmodel

import "errors"

// Error taxonomy for the chat core. NotFound surfaces to the transport layer
// as a 404; UpstreamUnavailable is always absorbed into a forced support
// escalation and never shown raw to the user.
var (
	ErrNotFound            = errors.New("not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidTransition   = errors.New("invalid status transition")
)
