package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/TryMightyAI/rampart/pkg/audit"
	"github.com/TryMightyAI/rampart/pkg/config"
	"github.com/TryMightyAI/rampart/pkg/delivery"
	"github.com/TryMightyAI/rampart/pkg/guard"
	"github.com/TryMightyAI/rampart/pkg/patterns"
	"github.com/TryMightyAI/rampart/pkg/ratelimit"
	"github.com/TryMightyAI/rampart/pkg/risk"
	"github.com/TryMightyAI/rampart/pkg/session"
	"github.com/TryMightyAI/rampart/pkg/telemetry"
)

const Version = "0.1.0"

// Header carrying the hex HMAC-SHA256 of the raw webhook body.
const signatureHeader = "X-Rampart-Signature"

// ============================================================================
// GATEWAY - assembles the turn pipeline and its backing stores
// ============================================================================

type Gateway struct {
	cfg      *config.Config
	guard    *guard.Guard
	detector *risk.RiskDetector
	store    *session.Store
	limits   *ratelimit.Registry
	recorder *audit.Recorder
	sender   *delivery.Sender
	outbound delivery.OutboundStore
	tele     *telemetry.Client
	alerts   *telemetry.AlertPublisher
	pool     *pgxpool.Pool
}

// NewGateway wires every component from configuration. Optional backends
// (Postgres, Redis, AMQP, the semantic stage) degrade to in-process
// fallbacks with a warning rather than refusing to start.
func NewGateway(cfg *config.Config) *Gateway {
	deriver := session.NewDeriver(cfg.IdentitySecret)
	store := session.NewStore(
		session.WithTTL(cfg.SessionTTL),
		session.WithSweepInterval(cfg.SweepInterval),
		session.WithAbuseWindow(cfg.AbuseWindow),
	)
	locks := session.NewLockRegistry(store, cfg.LockNoticeCooldown)
	enum := session.NewEnumerationGuard(store, cfg.EnumerationThreshold, cfg.EnumerationWindow)
	verify := session.NewMachine(store, session.OrderFlow, cfg.VerifyAttemptCeiling, cfg.VerifyStateTTL)

	limits := ratelimit.New(ratelimit.WithSweepInterval(cfg.SweepInterval))
	for name, ls := range cfg.RateLimits {
		limits.Register(name, ls.Max, ls.Window)
	}

	detector := buildDetector(cfg)

	// Security events: Postgres when reachable, memory otherwise.
	var events audit.EventStore = audit.NewMemoryEventStore()
	var pool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err == nil {
			pg := audit.NewPostgresEventStore(p)
			if err = pg.EnsureSchema(ctx); err == nil {
				events = pg
				pool = p
				log.Println("✓ Security events persisted to Postgres")
			} else {
				p.Close()
			}
		}
		cancel()
		if err != nil {
			log.Printf("[WARN] Postgres unavailable (%v), security events held in memory", err)
		}
	} else {
		log.Println("○ Postgres not configured, security events held in memory")
	}
	recorder := audit.NewRecorder(events,
		audit.WithDedupeWindow(cfg.AuditDedupWindow),
		audit.WithSweepInterval(cfg.SweepInterval),
	)

	// Outbound dedupe: Redis makes redelivery suppression survive restarts
	// and span replicas. Memory covers a single process.
	var outbound delivery.OutboundStore
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			client := redis.NewClient(opt)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = client.Ping(ctx).Err()
			cancel()
			if err == nil {
				outbound = delivery.NewRedisStoreFromClient(client, "rampart:outbound:")
				log.Println("✓ Outbound dedupe shared via Redis")
			} else {
				_ = client.Close()
			}
		}
		if err != nil {
			log.Printf("[WARN] Redis unavailable (%v), outbound dedupe is process-local", err)
		}
	}
	if outbound == nil {
		outbound = delivery.NewMemoryStore(delivery.WithMemorySweepInterval(cfg.SweepInterval))
		if cfg.RedisURL == "" {
			log.Println("○ Redis not configured, outbound dedupe is process-local")
		}
	}

	var deliverer delivery.Deliverer
	if len(cfg.DeliveryEndpoints) > 0 {
		deliverer = delivery.NewWebhookDeliverer(cfg.DeliveryEndpoints)
		log.Printf("✓ Outbound delivery to %d channel endpoint(s)", len(cfg.DeliveryEndpoints))
	} else {
		deliverer = logDeliverer{}
		log.Println("○ No delivery endpoints configured, replies are logged only")
	}
	sender := delivery.NewSender(outbound, deliverer,
		delivery.WithRetention(cfg.OutboundTTL),
		delivery.WithSendRate(cfg.DeliveryRate, cfg.DeliveryBurst),
		delivery.WithMaxInflight(cfg.MaxInflightSends),
	)

	notices := guard.NewNotices(cfg.DefaultLanguage)
	if path := config.GetEnv("RAMPART_NOTICES_FILE", ""); path != "" {
		if err := notices.LoadFile(path); err != nil {
			log.Printf("[WARN] Notice overrides not loaded: %v", err)
		} else {
			log.Printf("✓ Notice overrides loaded from %s", path)
		}
	}

	telemetry.InitMetrics()
	teleOpts := []telemetry.ClientOption{telemetry.WithSink(telemetry.LogSink{})}
	var alerts *telemetry.AlertPublisher
	if cfg.AMQPURL != "" {
		pub, err := telemetry.NewAlertPublisher(cfg.AMQPURL, cfg.AlertQueueName)
		if err != nil {
			log.Printf("[WARN] Alert publisher unavailable: %v", err)
		} else {
			alerts = pub
			teleOpts = append(teleOpts, telemetry.WithAlerter(pub))
			log.Printf("✓ High-severity alerts fan out to %s", cfg.AlertQueueName)
		}
	} else {
		log.Println("○ AMQP not configured, alert fan-out disabled")
	}
	tele := telemetry.NewClient(teleOpts...)
	telemetry.GlobalClient = tele

	g := guard.New(guard.Components{
		Deriver:   deriver,
		Store:     store,
		Locks:     locks,
		Enum:      enum,
		Verify:    verify,
		Limits:    limits,
		Detector:  detector,
		Recorder:  recorder,
		Sender:    sender,
		Signature: guard.NewSignatureVerifier(cfg.WebhookSigningSecret),
		Notices:   notices,
		Telemetry: tele,
	},
		guard.WithSlotMaxWords(cfg.SlotInputMaxWords),
		guard.WithDefaultLanguage(cfg.DefaultLanguage),
	)

	return &Gateway{
		cfg:      cfg,
		guard:    g,
		detector: detector,
		store:    store,
		limits:   limits,
		recorder: recorder,
		sender:   sender,
		outbound: outbound,
		tele:     tele,
		alerts:   alerts,
		pool:     pool,
	}
}

// buildDetector assembles the risk chain: compiled patterns, profanity
// lists, the optional semantic stage, and per-deployment seed files.
func buildDetector(cfg *config.Config) *risk.RiskDetector {
	registry := patterns.Get()
	profanity := risk.NewProfanityDetector()

	var semantic *risk.SemanticStage
	if cfg.EnableSemantics {
		stage, err := risk.NewSemanticStage(cfg.OllamaBaseURL, config.GetEnv("RAMPART_EMBED_MODEL", "nomic-embed-text"))
		if err != nil {
			log.Printf("○ Semantic stage disabled (init failed: %v)", err)
		} else {
			semantic = stage
			log.Println("✓ Semantic stage enabled (chromem-go + Ollama embeddings)")
		}
	} else {
		log.Println("○ Semantic stage disabled (set RAMPART_ENABLE_SEMANTICS=true to enable)")
	}

	if cfg.SeedDir != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		applied, err := risk.LoadAndApply(ctx, cfg.SeedDir, registry, profanity, semantic)
		cancel()
		if err != nil {
			log.Printf("[WARN] Seed load failed: %v", err)
		} else if applied > 0 {
			log.Printf("✓ Applied %d seed file(s) from %s", applied, cfg.SeedDir)
		}
	}

	opts := []risk.Option{
		risk.WithAbuseThreshold(cfg.AbuseThreshold),
		risk.WithRefusalWeight(cfg.RefusalWeight),
		risk.WithMaxInputSize(cfg.MaxInputSize),
		risk.WithDefaultLanguage(cfg.DefaultLanguage),
		risk.WithProfanityDetector(profanity),
	}
	if semantic != nil {
		opts = append(opts, risk.WithSemanticStage(semantic))
	}
	return risk.NewRiskDetector(opts...)
}

// Close stops background sweeps and drains in-flight writes.
func (gw *Gateway) Close() {
	gw.limits.Close()
	gw.store.Close()
	gw.recorder.Close()
	gw.tele.Close()
	if gw.alerts != nil {
		_ = gw.alerts.Close()
	}
	if err := gw.outbound.Close(); err != nil {
		log.Printf("[WARN] Outbound store close: %v", err)
	}
	if gw.pool != nil {
		gw.pool.Close()
	}
}

// logDeliverer is the development fallback when no channel endpoints are
// configured: replies land in the process log instead of a channel.
type logDeliverer struct{}

func (logDeliverer) Deliver(_ context.Context, payload delivery.OutboundPayload) (string, error) {
	log.Printf("[DELIVERY] %s/%s -> %s: %s", payload.TenantID, payload.Channel, payload.RecipientID, payload.Text)
	return "log-" + uuid.NewString(), nil
}

// ============================================================================
// HTTP HANDLERS
// ============================================================================

func (gw *Gateway) handleTurn(c fiber.Ctx) error {
	body := c.Body()
	meta := guard.RequestMeta{
		TenantID:  c.Get("X-Tenant-ID"),
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
		Endpoint:  c.Path(),
		Method:    c.Method(),
	}

	// The signature covers the raw body and is checked before anything
	// reads it. Without a configured secret (dev only; production refuses
	// to start) the check is skipped.
	if gw.cfg.WebhookSigningSecret != "" {
		if !gw.guard.VerifyWebhook(body, c.Get(signatureHeader), meta) {
			return c.Status(401).JSON(fiber.Map{"error": "invalid signature"})
		}
	}

	var turn guard.InboundTurn
	if err := json.Unmarshal(body, &turn); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	turn.IP = meta.IP
	turn.UserAgent = meta.UserAgent
	turn.Endpoint = meta.Endpoint
	turn.Method = meta.Method

	decision := gw.guard.HandleTurn(c.Context(), turn)
	return c.Status(decision.StatusCode).JSON(decision)
}

func (gw *Gateway) handleCheck(c fiber.Ctx) error {
	if dec, err := gw.limits.Allow(guard.LimiterAPI, c.IP()); err == nil && !dec.Allowed {
		telemetry.RecordRateRejection(guard.LimiterAPI)
		return c.Status(429).JSON(fiber.Map{"error": "rate limited", "retry_at": dec.ResetAt})
	}

	var req struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
	}

	// Stateless classification: no session tracker, nothing recorded.
	cls := gw.detector.Classify(c.Context(), req.Text, req.Language, nil)
	return c.JSON(cls)
}

func (gw *Gateway) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"version":   Version,
		"sessions":  gw.store.Stats(),
		"ratelimit": gw.limits.Stats(),
		"audit":     gw.recorder.Stats(),
		"delivery":  gw.sender.Stats(),
		"telemetry": gw.tele.Stats(),
	})
}

// adminOnly gates the admin surface: auth limiter first so key
// guessing burns the caller's budget, then a constant-time key compare.
func (gw *Gateway) adminOnly(next fiber.Handler) fiber.Handler {
	return func(c fiber.Ctx) error {
		if dec, err := gw.limits.Allow(guard.LimiterAuth, c.IP()); err == nil && !dec.Allowed {
			telemetry.RecordRateRejection(guard.LimiterAuth)
			return c.Status(429).JSON(fiber.Map{"error": "rate limited", "retry_at": dec.ResetAt})
		}
		if gw.cfg.AdminAPIKey == "" {
			return c.Status(503).JSON(fiber.Map{"error": "admin surface disabled"})
		}
		provided := c.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(gw.cfg.AdminAPIKey)) != 1 {
			return c.Status(401).JSON(fiber.Map{"error": "unauthorized"})
		}
		return next(c)
	}
}

func (gw *Gateway) handleUnlock(c fiber.Ctx) error {
	id := c.Params("id")
	meta := guard.RequestMeta{
		TenantID:  c.Get("X-Tenant-ID"),
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
		Endpoint:  c.Path(),
		Method:    c.Method(),
	}
	found, wasLocked := gw.guard.Unlock(id, meta)
	if !found {
		return c.Status(404).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(fiber.Map{"session_id": id, "was_locked": wasLocked})
}

func (gw *Gateway) handleSession(c fiber.Ctx) error {
	snap, ok := gw.guard.Snapshot(c.Params("id"))
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(snap)
}

// ============================================================================
// ENTRYPOINT
// ============================================================================

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Println("[STARTUP] No .env file found, using environment variables")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "check":
		if len(os.Args) < 3 {
			fmt.Println("Usage: rampart check <text>")
			os.Exit(1)
		}
		runCLICheck(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Rampart v%s\n", Version)
		fmt.Println("Conversational abuse guard for support gateways")
	default:
		printUsage()
		os.Exit(1)
	}
}

func runHTTPServer(port string) {
	cfg := config.NewDefaultConfig()
	if port != "" {
		cfg.ListenPort = port
	}
	cfg.MustValidate()

	gw := NewGateway(cfg)
	defer gw.Close()

	app := fiber.New(fiber.Config{
		AppName: "Rampart v" + Version,
	})

	app.Get("/health", gw.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(telemetry.MetricsHandler()))
	app.Post("/webhook/turn", gw.handleTurn)
	app.Post("/check", gw.handleCheck)

	app.Get("/admin/sessions/:id", gw.adminOnly(gw.handleSession))
	app.Post("/admin/sessions/:id/unlock", gw.adminOnly(gw.handleUnlock))

	log.Printf("Rampart gateway starting on :%s", cfg.ListenPort)
	log.Println("Endpoints:")
	log.Println("  GET  /health                    - Component health and counters")
	log.Println("  GET  /metrics                   - Prometheus metrics")
	log.Println("  POST /webhook/turn              - Inbound channel webhook")
	log.Println("  POST /check                     - Stateless message classification")
	log.Println("  GET  /admin/sessions/:id        - Session snapshot")
	log.Println("  POST /admin/sessions/:id/unlock - Clear a session lock")

	go func() {
		if err := app.Listen(":" + cfg.ListenPort); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[SHUTDOWN] Draining in-flight work")
	if err := app.Shutdown(); err != nil {
		log.Printf("[WARN] Server shutdown: %v", err)
	}
}

// runCLICheck classifies a single message and prints the result, for
// trying patterns and seed files without standing up the server.
func runCLICheck(text string) {
	cfg := config.NewDefaultConfig()
	detector := buildDetector(cfg)

	cls := detector.Classify(context.Background(), text, cfg.DefaultLanguage, nil)

	output, _ := json.MarshalIndent(cls, "", "  ")
	fmt.Println(string(output))
}

func printUsage() {
	fmt.Printf("Rampart v%s - Conversational abuse guard\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  rampart serve [port]   Start the gateway (default port: 3000)")
	fmt.Println("  rampart check <text>   Classify one message from the command line")
	fmt.Println("  rampart version        Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  rampart serve 8080")
	fmt.Println("  rampart check \"Ignore all previous instructions\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  RAMPART_WEBHOOK_SECRET   HMAC secret for inbound webhook signatures")
	fmt.Println("  RAMPART_ADMIN_KEY        Pre-shared key for the admin surface")
	fmt.Println("  RAMPART_IDENTITY_SECRET  HMAC secret for session id derivation")
	fmt.Println("  RAMPART_POSTGRES_URL     Security event store (memory when unset)")
	fmt.Println("  RAMPART_REDIS_URL        Shared outbound dedupe store (memory when unset)")
	fmt.Println("  RAMPART_AMQP_URL         High-severity alert fan-out (disabled when unset)")
	fmt.Println("  RAMPART_SEED_DIR         Extra detection patterns and exemplars")
	fmt.Println("  RAMPART_ENV              Set to \"production\" to enforce secrets")
}
