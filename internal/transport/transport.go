// Package transport carries level meter frames out of the engine.
package transport

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe and must not block the caller for
// long: slow consumers lose frames instead of stalling the publisher.
type Transport interface {
	Send(data any) error
	Close() error
}
