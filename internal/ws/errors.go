package ws

import "errors"

var (
	// ErrMalformedEnvelope is returned when an inbound frame or handshake is
	// not a JSON object or lacks a required field.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnknownChannel is returned for channel names outside the fixed universe.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrDuplicateClient is returned when the same connection is registered twice.
	ErrDuplicateClient = errors.New("duplicate client")
	// ErrNotFound is returned when a connection is not present in the registry.
	ErrNotFound = errors.New("client not found")

	ErrClientClosed   = errors.New("client connection closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)
