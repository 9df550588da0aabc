package notifications

import "errors"

var (
	// ErrInvalidChannelSet rejects a request whose channel list is empty or
	// names an unsupported channel. Nothing is persisted.
	ErrInvalidChannelSet = errors.New("invalid channel set")
	// ErrInvalidRequest rejects a request that fails field validation.
	ErrInvalidRequest      = errors.New("invalid notification request")
	ErrDeliveryTimeout     = errors.New("delivery timed out")
	ErrDeliveryFailed      = errors.New("delivery failed")
	ErrNotFound            = errors.New("notification not found")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrShuttingDown rejects notifications once the worker pool has stopped.
	ErrShuttingDown = errors.New("notification service shutting down")
)
