// Package events provides the typed publish mechanism core components use to
// announce state changes (import progress, batch completion, tag changes) to
// external listeners. Subscription management belongs to the transport
// adapter; the core only publishes.
package events
