// Package telemetry emits one structured record for every consequential
// guard decision. Records go to a pluggable sink (a JSON log line by
// default), feed the Prometheus counters, and, above a severity
// threshold, are published as alerts for an external monitor. Emission
// never blocks the turn path.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TryMightyAI/rampart/pkg/httputil"
)

// ============================================================================
// TELEMETRY CLIENT - structured guard event records
// ============================================================================

const (
	defaultAlertThreshold = "high"
	defaultMaxInflight    = 8
	alertPublishTimeout   = 5 * time.Second
)

// Record is the structured form of one telemetry event
type Record struct {
	Event     string                 `json:"event"`
	Severity  string                 `json:"severity"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Props     map[string]interface{} `json:"props,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives every emitted record
type Sink interface {
	Emit(rec Record)
}

// Alerter publishes high-severity records to an external monitor
type Alerter interface {
	Publish(ctx context.Context, rec Record) error
}

// eventSeverity maps event names to their default severity. Events not
// listed here are informational.
var eventSeverity = map[string]string{
	"session_locked":         "high",
	"session_unlocked":       "info",
	"enumeration_blocked":    "high",
	"rate_limited":           "low",
	"verification_failed":    "medium",
	"verification_exhausted": "high",
	"signature_invalid":      "critical",
	"soft_refusal":           "medium",
	"pii_disclosed":          "medium",
}

var severityRank = map[string]int{
	"info":     0,
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// SeverityFor returns the default severity for an event name
func SeverityFor(event string) string {
	if sev, ok := eventSeverity[event]; ok {
		return sev
	}
	return "info"
}

// Client fans emitted records out to the sink, the Prometheus counters,
// and the alert publisher
type Client struct {
	sink     Sink
	alerter  Alerter
	alertMin int
	sem      *httputil.Semaphore
	wg       sync.WaitGroup

	emitted     atomic.Int64
	alertsSent  atomic.Int64
	alertErrors atomic.Int64
}

// GlobalClient is the process-wide client. It stays nil until the
// gateway wires one up, callers must nil-check.
var GlobalClient *Client

// ClientOption configures a Client
type ClientOption func(*Client)

// WithSink replaces the default log sink
func WithSink(sink Sink) ClientOption {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithAlerter enables alert publishing for records at or above the
// alert threshold
func WithAlerter(a Alerter) ClientOption {
	return func(c *Client) {
		c.alerter = a
	}
}

// WithAlertThreshold sets the minimum severity that triggers an alert
func WithAlertThreshold(severity string) ClientOption {
	return func(c *Client) {
		if rank, ok := severityRank[severity]; ok {
			c.alertMin = rank
		}
	}
}

// WithMaxInflightAlerts caps concurrent alert publishes, excess alerts
// are dropped rather than queued
func WithMaxInflightAlerts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.sem = httputil.NewSemaphore(n)
		}
	}
}

// NewClient creates a telemetry client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		sink:     LogSink{},
		alertMin: severityRank[defaultAlertThreshold],
		sem:      httputil.NewSemaphore(defaultMaxInflight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Emit records one event. Missing severity is derived from the event
// name, missing timestamps are filled in.
func (c *Client) Emit(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Severity == "" {
		rec.Severity = SeverityFor(rec.Event)
	}

	c.emitted.Add(1)
	RecordGuardEvent(rec.Event, rec.Severity, rec.TenantID)

	if c.sink != nil {
		c.sink.Emit(rec)
	}

	if c.alerter != nil && severityRank[rec.Severity] >= c.alertMin {
		if c.sem.TryAcquire() {
			c.wg.Add(1)
			go c.publishAlert(rec)
		}
	}
}

// Track emits a record with no tenant or session attribution
func (c *Client) Track(event string, props map[string]interface{}) {
	c.Emit(Record{Event: event, Props: props})
}

// TrackWithContext emits a record with attribution, args are tenant id
// then session id
func (c *Client) TrackWithContext(event string, props map[string]interface{}, args ...string) {
	rec := Record{Event: event, Props: props}
	if len(args) > 0 {
		rec.TenantID = args[0]
	}
	if len(args) > 1 {
		rec.SessionID = args[1]
	}
	c.Emit(rec)
}

func (c *Client) publishAlert(rec Record) {
	defer c.wg.Done()
	defer c.sem.Release()

	ctx, cancel := context.WithTimeout(context.Background(), alertPublishTimeout)
	defer cancel()

	if err := c.alerter.Publish(ctx, rec); err != nil {
		c.alertErrors.Add(1)
		log.Printf("[WARN] Failed to publish alert for %s: %v", rec.Event, err)
		return
	}
	c.alertsSent.Add(1)
}

// Close waits for in-flight alert publishes to finish
func (c *Client) Close() {
	c.wg.Wait()
}

// ClientStats is a snapshot of telemetry counters
type ClientStats struct {
	Emitted       int64 `json:"emitted"`
	AlertsSent    int64 `json:"alerts_sent"`
	AlertErrors   int64 `json:"alert_errors"`
	AlertsDropped int64 `json:"alerts_dropped"`
}

// Stats returns current telemetry counters
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Emitted:       c.emitted.Load(),
		AlertsSent:    c.alertsSent.Load(),
		AlertErrors:   c.alertErrors.Load(),
		AlertsDropped: c.sem.DroppedCount(),
	}
}

// ============================================================================
// SINKS
// ============================================================================

// LogSink writes each record as one JSON log line
type LogSink struct{}

// Emit implements Sink
func (LogSink) Emit(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	log.Printf("[TELEMETRY] %s", data)
}

// MemorySink captures records for tests
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemorySink creates an empty memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink
func (s *MemorySink) Emit(rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// Records returns a copy of everything captured so far
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

var (
	_ Sink = LogSink{}
	_ Sink = (*MemorySink)(nil)
)
