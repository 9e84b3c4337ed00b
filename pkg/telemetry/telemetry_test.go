package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAlerter struct {
	mu        sync.Mutex
	published []Record
	err       error
	block     chan struct{}
}

func (f *fakeAlerter) Publish(ctx context.Context, rec Record) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, rec)
	return nil
}

func (f *fakeAlerter) records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, len(f.published))
	copy(out, f.published)
	return out
}

func TestEmitFillsDefaults(t *testing.T) {
	sink := NewMemorySink()
	c := NewClient(WithSink(sink))

	c.Emit(Record{Event: "session_locked", TenantID: "acme"})

	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Severity != "high" {
		t.Errorf("Expected derived severity high, got %q", recs[0].Severity)
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be filled in")
	}
	if recs[0].TenantID != "acme" {
		t.Errorf("Tenant lost: %+v", recs[0])
	}
}

func TestEmitPreservesExplicitSeverity(t *testing.T) {
	sink := NewMemorySink()
	c := NewClient(WithSink(sink))

	c.Emit(Record{Event: "session_locked", Severity: "low"})

	if got := sink.Records()[0].Severity; got != "low" {
		t.Errorf("Explicit severity overwritten, got %q", got)
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{"session_locked", "high"},
		{"session_unlocked", "info"},
		{"enumeration_blocked", "high"},
		{"rate_limited", "low"},
		{"verification_failed", "medium"},
		{"signature_invalid", "critical"},
		{"something_new", "info"},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.event); got != tt.want {
			t.Errorf("SeverityFor(%q) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

func TestTrackWithContext(t *testing.T) {
	sink := NewMemorySink()
	c := NewClient(WithSink(sink))

	c.TrackWithContext("verification_failed", map[string]interface{}{
		"attempts": 2,
	}, "acme", "sess-1")

	rec := sink.Records()[0]
	if rec.TenantID != "acme" || rec.SessionID != "sess-1" {
		t.Errorf("Attribution args not applied: %+v", rec)
	}
	if rec.Props["attempts"] != 2 {
		t.Errorf("Props lost: %+v", rec.Props)
	}
}

func TestTrackNoAttribution(t *testing.T) {
	sink := NewMemorySink()
	c := NewClient(WithSink(sink))

	c.Track("rate_limited", nil)

	rec := sink.Records()[0]
	if rec.TenantID != "" || rec.SessionID != "" {
		t.Errorf("Expected no attribution, got %+v", rec)
	}
}

func TestAlertThreshold(t *testing.T) {
	alerter := &fakeAlerter{}
	c := NewClient(WithSink(NewMemorySink()), WithAlerter(alerter))

	c.Emit(Record{Event: "rate_limited"})      // low, no alert
	c.Emit(Record{Event: "session_locked"})    // high, alert
	c.Emit(Record{Event: "signature_invalid"}) // critical, alert
	c.Close()

	recs := alerter.records()
	if len(recs) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(recs))
	}
	seen := map[string]bool{}
	for _, rec := range recs {
		seen[rec.Event] = true
	}
	if !seen["session_locked"] || !seen["signature_invalid"] {
		t.Errorf("Wrong alerts published: %v", seen)
	}
}

func TestAlertThresholdOverride(t *testing.T) {
	alerter := &fakeAlerter{}
	c := NewClient(
		WithSink(NewMemorySink()),
		WithAlerter(alerter),
		WithAlertThreshold("critical"),
	)

	c.Emit(Record{Event: "session_locked"})    // high, below threshold
	c.Emit(Record{Event: "signature_invalid"}) // critical
	c.Close()

	recs := alerter.records()
	if len(recs) != 1 || recs[0].Event != "signature_invalid" {
		t.Errorf("Expected only the critical alert, got %v", recs)
	}
}

func TestAlertsDropWhenSaturated(t *testing.T) {
	alerter := &fakeAlerter{block: make(chan struct{})}
	c := NewClient(
		WithSink(NewMemorySink()),
		WithAlerter(alerter),
		WithMaxInflightAlerts(2),
	)

	for i := 0; i < 5; i++ {
		c.Emit(Record{Event: "signature_invalid"})
	}

	close(alerter.block)
	c.Close()

	stats := c.Stats()
	if stats.AlertsSent != 2 {
		t.Errorf("Expected 2 alerts sent, got %d", stats.AlertsSent)
	}
	if stats.AlertsDropped != 3 {
		t.Errorf("Expected 3 alerts dropped, got %d", stats.AlertsDropped)
	}
	if stats.Emitted != 5 {
		t.Errorf("Expected 5 records emitted, got %d", stats.Emitted)
	}
}

func TestAlertPublishErrorCounted(t *testing.T) {
	alerter := &fakeAlerter{err: errors.New("broker down")}
	c := NewClient(WithSink(NewMemorySink()), WithAlerter(alerter))

	c.Emit(Record{Event: "session_locked"})
	c.Close()

	stats := c.Stats()
	if stats.AlertErrors != 1 {
		t.Errorf("Expected 1 alert error, got %d", stats.AlertErrors)
	}
	if stats.AlertsSent != 0 {
		t.Errorf("Expected 0 alerts sent, got %d", stats.AlertsSent)
	}
}

func TestNoAlerterNoPanic(t *testing.T) {
	c := NewClient(WithSink(NewMemorySink()))
	c.Emit(Record{Event: "signature_invalid"})
	c.Close()

	if got := c.Stats().Emitted; got != 1 {
		t.Errorf("Expected 1 emitted, got %d", got)
	}
}

func TestMemorySinkCopy(t *testing.T) {
	sink := NewMemorySink()
	sink.Emit(Record{Event: "a", Timestamp: time.Now()})

	recs := sink.Records()
	recs[0].Event = "mutated"

	if sink.Records()[0].Event != "a" {
		t.Error("Records() should return a copy")
	}
}

func TestInitMetricsIdempotent(t *testing.T) {
	InitMetrics()
	InitMetrics() // second call must not re-register
}

func TestMetricsHandler(t *testing.T) {
	if MetricsHandler() == nil {
		t.Error("Expected a metrics handler")
	}
}

func TestRecordHelpers(t *testing.T) {
	RecordGuardEvent("session_locked", "high", "acme")
	RecordTurn("acme", "allowed", 5*time.Millisecond)
	RecordOutboundSend("whatsapp", "sent")
	RecordRateRejection("webhook")
}

func TestNewAlertPublisherBadURL(t *testing.T) {
	if _, err := NewAlertPublisher("not-a-url", "rampart.alerts"); err == nil {
		t.Error("Expected error for bad broker URL")
	}
}
