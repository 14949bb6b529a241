package nostrkit

import "errors"

var (
	// ErrInvalidEvent is returned when an event is structurally malformed:
	// bad hex fields, wrong field lengths or a recomputed id mismatch.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInvalidSignature is returned when an event's signature does not
	// verify against its id and pubkey.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNotConnected is returned by publish/subscribe calls issued while a
	// relay or client is not connected and offline queueing is disabled.
	ErrNotConnected = errors.New("not connected")

	// ErrRelayClosed is returned for operations on a relay that reached the
	// Terminated state.
	ErrRelayClosed = errors.New("relay connection closed")

	// ErrSubscriptionClosed is returned when firing on a subscription whose
	// channel was already closed.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrInvalidRelayURL is returned by AddRelay for URLs that don't
	// normalize to a ws:// or wss:// address.
	ErrInvalidRelayURL = errors.New("invalid relay URL")

	// ErrInvalidKey is returned for secret or public keys that are not
	// 32 lowercase hex-encoded bytes (or a decodable nsec/npub).
	ErrInvalidKey = errors.New("invalid key")
)
