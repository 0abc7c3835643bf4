// Package audit implements async dispatch of token lifecycle events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: token_generated, token_validated, token_refreshed, token_deleted.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit. The Engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import patAuth or any sibling internal package.
package audit
