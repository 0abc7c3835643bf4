package patAuth

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := &countingSink{}
	env := newTestEnv(t, func(cfg *Config) { cfg.Audit.Enabled = false }, func(b *Builder) { b.WithAuditSink(sink) })

	env.issue(t, "42", aliceCtx)
	env.engine.Close()
	if sink.Count() != 0 {
		t.Fatalf("expected no events, got %d", sink.Count())
	}
}

func TestAuditDropIfFullCountsDrops(t *testing.T) {
	sink := newGateSink()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Audit.BufferSize = 1
		cfg.Audit.DropIfFull = true
	}, func(b *Builder) { b.WithAuditSink(sink) })
	defer close(sink.gate)

	// The worker blocks on the first event, the second fills the buffer and
	// the rest are dropped.
	for i := 0; i < 5; i++ {
		env.issue(t, "42", aliceCtx)
	}
	deadline := time.Now().Add(time.Second)
	for env.engine.AuditDropped() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := env.engine.AuditDropped(); got < 3 {
		t.Fatalf("expected at least 3 dropped events, got %d", got)
	}
}

func TestAuditEventShape(t *testing.T) {
	env := newTestEnv(t, nil)
	tok := env.issue(t, "42", aliceCtx)

	select {
	case ev := <-env.sink.Events():
		if ev.Type != EventTokenGenerated || !ev.Success || ev.Reason != "" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.UserID != "42" || ev.PAT != tok.PAT || ev.IP != "1.2.3.4" || ev.Device != "UA-X" {
			t.Fatalf("unexpected identity fields %+v", ev)
		}
		if ev.ID == "" || !ev.Timestamp.Equal(env.clock.Now()) {
			t.Fatalf("expected id and engine-clock timestamp, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected token_generated event")
	}
}

func TestRateLimitEmitsEvent(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit.Policies = []RateLimitPolicy{{Route: RouteLogin, Limit: 1, Window: time.Minute}}
	})
	ctx := WithClientContext(context.Background(), aliceCtx)

	if _, err := env.engine.AllowRequest(ctx, RouteLogin, "1.2.3.4"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	d, err := env.engine.AllowRequest(ctx, RouteLogin, "1.2.3.4")
	if !errors.Is(err, ErrRateLimited) || d.Allowed {
		t.Fatalf("expected rate limited, got %+v %v", d, err)
	}

	select {
	case ev := <-env.sink.Events():
		if ev.Type != EventRateLimitTriggered || ev.Success || ev.Reason != "rate_limited" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Metadata["route"] != RouteLogin || ev.Metadata["subject"] != "1.2.3.4" || ev.IP != "1.2.3.4" {
			t.Fatalf("unexpected metadata %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected rate_limit_triggered event")
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{ID: "1", Type: EventTokenDeleted, UserID: "42", Success: true})
	sink.Emit(context.Background(), AuditEvent{ID: "2", Type: EventTokenValidated, Reason: "expired", Metadata: map[string]string{"k": "v"}})

	scanner := bufio.NewScanner(&buf)
	var got []AuditEvent
	for scanner.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].UserID != "42" || got[1].Reason != "expired" || got[1].Metadata["k"] != "v" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestZapSinkLogsEventType(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{
		Type:     EventTokenRefreshed,
		UserID:   "42",
		PAT:      "p1",
		Success:  true,
		Metadata: map[string]string{"previous_pat": "p0"},
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != EventTokenRefreshed || entry.LoggerName != "events" {
		t.Fatalf("unexpected entry %q from %q", entry.Message, entry.LoggerName)
	}
	fields := entry.ContextMap()
	if fields["user_id"] != "42" || fields["meta.previous_pat"] != "p0" {
		t.Fatalf("unexpected fields %v", fields)
	}
}
