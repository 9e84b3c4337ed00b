package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Channel identifies an inbound/outbound conversation transport.
type Channel string

const (
	ChannelWidget    Channel = "widget"    // Embedded chat widget
	ChannelWhatsApp  Channel = "whatsapp"  // WhatsApp Business webhook
	ChannelMessenger Channel = "messenger" // Meta Messenger webhook
	ChannelSMS       Channel = "sms"       // SMS aggregator webhook
)

// LimiterSettings configures one named fixed-window rate limiter.
type LimiterSettings struct {
	Max    int           // Requests allowed per window
	Window time.Duration // Window length
}

// Config holds global settings for the Rampart guard gateway.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenPort  string // HTTP listen port (default: "3000")
	Environment string // "development" or "production" (env: RAMPART_ENV)

	// === Webhook Authentication ===
	WebhookSigningSecret string // HMAC-SHA256 secret for inbound webhook bodies (REQUIRED in production)
	AdminAPIKey          string // Pre-shared key for the admin surface (REQUIRED in production)

	// === Session Identity ===
	IdentitySecret string        // HMAC secret for deterministic session id derivation
	SessionTTL     time.Duration // Inactivity TTL before session state is reset (default: 1h)

	// === Rate Limiting (per named limiter) ===
	RateLimits map[string]LimiterSettings // Keyed by limiter name: "webhook", "api", "auth"

	// === Risk Detection ===
	AbuseThreshold  int           // Abuse points within AbuseWindow that lock a session (default: 3)
	AbuseWindow     time.Duration // Trailing window for the rolling abuse counter (default: 10m)
	RefusalWeight   int           // Half-points of abuse contributed by one soft refusal (default: 1)
	EnableSemantics bool          // Enable embedding-similarity injection stage (requires Ollama)
	OllamaBaseURL   string        // Ollama endpoint for the optional semantic stage
	SeedDir         string        // Optional directory of YAML pattern/message seed files
	MaxInputSize    int           // Byte cap applied before risk scanning (default: 10KB)
	DefaultLanguage string        // Fallback language for notices (default: "en")

	// === Enumeration Guard ===
	EnumerationThreshold int           // Not-found lookups within the window that block (default: 5)
	EnumerationWindow    time.Duration // Sliding window for not-found counting (default: 10m)

	// === Lock Registry ===
	LockNoticeCooldown time.Duration // Minimum spacing between "you are blocked" notices (default: 60s)

	// === Verification ===
	VerifyAttemptCeiling int           // Failed verification attempts before terminal failure (default: 3)
	VerifyStateTTL       time.Duration // Pending-verification expiry (default: 15m)
	SlotInputMaxWords    int           // Inputs at or under this word count are slot-shaped (default: 4)

	// === Audit ===
	PostgresURL      string        // Postgres DSN for the security event store (empty = in-memory store)
	AuditDedupWindow time.Duration // Window in which identical events are collapsed (default: 60s)

	// === Outbound Delivery ===
	RedisURL          string            // Redis URL for the outbound dedupe store (empty = in-memory store)
	OutboundTTL       time.Duration     // Dedupe record retention; must exceed upstream retry horizon (default: 72h)
	DeliveryRate      float64           // Per-channel outbound sends per second (default: 10)
	DeliveryBurst     int               // Per-channel outbound burst (default: 20)
	MaxInflightSends  int               // Gateway-wide concurrent delivery cap (default: 64)
	DeliveryEndpoints map[string]string // Channel -> outbound webhook URL (empty = log-only delivery)

	// === Alerting ===
	AMQPURL        string // Optional AMQP endpoint for high-severity alert fan-out (empty = disabled)
	AlertQueueName string // Queue name for published alerts (default: "rampart.alerts")

	// === Sweep Intervals ===
	SweepInterval time.Duration // Background eviction period shared by in-memory registries (default: 1m)
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	cfg := &Config{
		// Core
		ListenPort:  GetEnv("RAMPART_PORT", "3000"),
		Environment: strings.ToLower(GetEnv("RAMPART_ENV", "development")),

		// Webhook authentication
		WebhookSigningSecret: os.Getenv("RAMPART_WEBHOOK_SECRET"),
		AdminAPIKey:          os.Getenv("RAMPART_ADMIN_KEY"),

		// Session identity
		IdentitySecret: getIdentitySecret(),
		SessionTTL:     GetEnvDuration("RAMPART_SESSION_TTL", time.Hour),

		// Rate limiting - webhook ingress is the widest gate, auth the narrowest
		RateLimits: map[string]LimiterSettings{
			"webhook": {
				Max:    GetEnvInt("RAMPART_RATE_WEBHOOK_MAX", 60),
				Window: GetEnvDuration("RAMPART_RATE_WEBHOOK_WINDOW", time.Minute),
			},
			"api": {
				Max:    GetEnvInt("RAMPART_RATE_API_MAX", 120),
				Window: GetEnvDuration("RAMPART_RATE_API_WINDOW", time.Minute),
			},
			"auth": {
				Max:    GetEnvInt("RAMPART_RATE_AUTH_MAX", 10),
				Window: GetEnvDuration("RAMPART_RATE_AUTH_WINDOW", time.Minute),
			},
		},

		// Risk detection
		AbuseThreshold:  GetEnvInt("RAMPART_ABUSE_THRESHOLD", 3),
		AbuseWindow:     GetEnvDuration("RAMPART_ABUSE_WINDOW", 10*time.Minute),
		RefusalWeight:   clampInt(GetEnvInt("RAMPART_REFUSAL_WEIGHT", 1), 0, 2),
		EnableSemantics: GetEnvBool("RAMPART_ENABLE_SEMANTICS", false),
		OllamaBaseURL:   GetEnv("RAMPART_OLLAMA_URL", "http://localhost:11434"),
		SeedDir:         GetEnv("RAMPART_SEED_DIR", ""),
		MaxInputSize:    clampInt(GetEnvInt("RAMPART_MAX_INPUT_BYTES", 10*1024), 256, 1024*1024),
		DefaultLanguage: GetEnv("RAMPART_DEFAULT_LANGUAGE", "en"),

		// Enumeration guard
		EnumerationThreshold: GetEnvInt("RAMPART_ENUM_THRESHOLD", 5),
		EnumerationWindow:    GetEnvDuration("RAMPART_ENUM_WINDOW", 10*time.Minute),

		// Lock registry
		LockNoticeCooldown: GetEnvDuration("RAMPART_LOCK_NOTICE_COOLDOWN", 60*time.Second),

		// Verification
		VerifyAttemptCeiling: clampInt(GetEnvInt("RAMPART_VERIFY_ATTEMPTS", 3), 1, 10),
		VerifyStateTTL:       GetEnvDuration("RAMPART_VERIFY_TTL", 15*time.Minute),
		SlotInputMaxWords:    clampInt(GetEnvInt("RAMPART_SLOT_MAX_WORDS", 4), 1, 12),

		// Audit
		PostgresURL:      GetEnv("RAMPART_POSTGRES_URL", os.Getenv("DATABASE_URL")),
		AuditDedupWindow: GetEnvDuration("RAMPART_AUDIT_DEDUP_WINDOW", 60*time.Second),

		// Outbound delivery
		RedisURL:          GetEnv("RAMPART_REDIS_URL", os.Getenv("REDIS_URL")),
		OutboundTTL:       GetEnvDuration("RAMPART_OUTBOUND_TTL", 72*time.Hour),
		DeliveryRate:      GetEnvFloat("RAMPART_DELIVERY_RATE", 10),
		DeliveryBurst:     GetEnvInt("RAMPART_DELIVERY_BURST", 20),
		MaxInflightSends:  clampInt(GetEnvInt("RAMPART_MAX_INFLIGHT_SENDS", 64), 1, 4096),
		DeliveryEndpoints: GetEnvMap("RAMPART_DELIVERY_ENDPOINTS", nil),

		// Alerting
		AMQPURL:        GetEnv("RAMPART_AMQP_URL", ""),
		AlertQueueName: GetEnv("RAMPART_ALERT_QUEUE", "rampart.alerts"),

		// Sweeps
		SweepInterval: GetEnvDuration("RAMPART_SWEEP_INTERVAL", time.Minute),
	}

	return cfg
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// getIdentitySecret returns the identity secret from env, or generates a random
// one for development. In production, RAMPART_IDENTITY_SECRET MUST be set so
// session ids stay stable across restarts.
func getIdentitySecret() string {
	if secret := os.Getenv("RAMPART_IDENTITY_SECRET"); secret != "" {
		return secret
	}

	env := strings.ToLower(os.Getenv("RAMPART_ENV"))
	isProduction := env == "production" || env == "prod"

	log.Printf("[WARN] RAMPART_IDENTITY_SECRET not set - using ephemeral secret. Session ids will NOT survive restarts. Set RAMPART_IDENTITY_SECRET in production!")

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// SECURITY: In production, crypto/rand failure is a critical error - do not start with weak secret
		if isProduction {
			log.Fatalf("[FATAL] crypto/rand failure in production - cannot generate secure identity secret: %v", err)
		}
		log.Printf("[CRITICAL] crypto/rand failure - identity derivation severely compromised! This should NEVER happen: %v", err)
		fallback := make([]byte, 32)
		for i := range fallback {
			fallback[i] = byte((os.Getpid() + time.Now().Nanosecond() + i*31) & 0xFF)
		}
		return hex.EncodeToString(fallback)
	}
	return hex.EncodeToString(b)
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// NewHighSecurityConfig creates a Config for maximum protection
// (locks and challenges more aggressively).
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.AbuseThreshold = 2
	cfg.EnumerationThreshold = 3
	cfg.VerifyAttemptCeiling = 2
	cfg.RateLimits["webhook"] = LimiterSettings{Max: 30, Window: time.Minute}
	cfg.RateLimits["auth"] = LimiterSettings{Max: 5, Window: time.Minute}
	return cfg
}

// NewHighUsabilityConfig creates a Config that minimizes friction for
// legitimate users at the cost of slower lockouts.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.AbuseThreshold = 5
	cfg.EnumerationThreshold = 8
	cfg.VerifyAttemptCeiling = 5
	cfg.LockNoticeCooldown = 30 * time.Second
	return cfg
}

// Helper functions for environment variable parsing
// These are exported for use by other packages

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvDuration returns the duration value of an environment variable or a
// default value. Accepts Go duration syntax ("90s", "5m") and bare integers,
// which are read as milliseconds.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// GetEnvMap returns key=value pairs from a comma-separated environment
// variable, e.g. "whatsapp=https://hub.example/wa,sms=https://hub.example/sms".
func GetEnvMap(key string, defaultValue map[string]string) map[string]string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}

	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}

// RequiredSecret defines a required environment variable for startup validation
type RequiredSecret struct {
	Name        string // Environment variable name
	Description string // Human-readable description
	Production  bool   // Required in production only (false = required always)
}

// CriticalSecrets returns the list of secrets required for the gateway to operate
func CriticalSecrets() []RequiredSecret {
	return []RequiredSecret{
		// Required in production so webhook authenticity can be verified
		{Name: "RAMPART_WEBHOOK_SECRET", Description: "HMAC secret for inbound webhook signatures (32+ bytes)", Production: true},
		// Required in production for the admin surface
		{Name: "RAMPART_ADMIN_KEY", Description: "Pre-shared key for admin endpoints", Production: true},
		// Required in production so session ids survive restarts
		{Name: "RAMPART_IDENTITY_SECRET", Description: "HMAC secret for session id derivation (32+ bytes)", Production: true},
	}
}

// Validate checks that all required configuration is present.
// In production mode, this will return an error if critical secrets are missing.
// In development mode, it logs warnings but allows startup for local testing.
func (c *Config) Validate() error {
	isProduction := c.IsProduction()

	var missing []string
	var warnings []string

	for _, secret := range CriticalSecrets() {
		value := os.Getenv(secret.Name)
		if value == "" {
			if secret.Production && !isProduction {
				warnings = append(warnings, secret.Name+" ("+secret.Description+")")
			} else {
				missing = append(missing, secret.Name+" ("+secret.Description+")")
			}
		}
	}

	// Secrets must carry real entropy in production
	if isProduction {
		if len(c.WebhookSigningSecret) > 0 && len(c.WebhookSigningSecret) < 32 {
			missing = append(missing, "RAMPART_WEBHOOK_SECRET (must be at least 32 characters)")
		}
		if len(c.IdentitySecret) < 32 {
			missing = append(missing, "RAMPART_IDENTITY_SECRET (must be at least 32 characters)")
		}
	}

	for _, name := range []string{"webhook", "api", "auth"} {
		ls, ok := c.RateLimits[name]
		if !ok {
			missing = append(missing, "rate limiter \""+name+"\" (removed from RateLimits)")
			continue
		}
		if ls.Max <= 0 || ls.Window <= 0 {
			missing = append(missing, "rate limiter \""+name+"\" (max and window must be positive)")
		}
	}

	if c.OutboundTTL < 24*time.Hour {
		warnings = append(warnings, "RAMPART_OUTBOUND_TTL below 24h - may undercut upstream webhook retry horizons")
	}

	for _, w := range warnings {
		log.Printf("[STARTUP] Warning: %s", w)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}
