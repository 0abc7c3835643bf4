package patAuth

import (
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/patAuth/internal/audit"
)

// Event types emitted by the engine.
const (
	EventTokenGenerated = audit.TokenGenerated
	EventTokenValidated = audit.TokenValidated
	EventTokenRefreshed = audit.TokenRefreshed
	EventTokenDeleted   = audit.TokenDeleted

	EventRateLimitTriggered = audit.RateLimitTriggered
)

// AuditEvent is one token lifecycle event.
type AuditEvent = audit.Event

// AuditSink receives lifecycle events from the dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers events to a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON document per event.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs events through a zap logger.
type ZapSink = audit.ZapSink

func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

func NewZapSink(logger *zap.Logger) *ZapSink { return audit.NewZapSink(logger) }

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}
