package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthbook/healthbook/internal/config"
	"github.com/healthbook/healthbook/internal/domain/cancellation"
	"github.com/healthbook/healthbook/internal/domain/payment"
	"github.com/healthbook/healthbook/internal/domain/scheduling"
	"github.com/healthbook/healthbook/internal/platform/auth"
	"github.com/healthbook/healthbook/internal/platform/db"
	"github.com/healthbook/healthbook/internal/platform/events"
	"github.com/healthbook/healthbook/internal/platform/middleware"
	"github.com/healthbook/healthbook/internal/platform/webhook"
	"github.com/healthbook/healthbook/internal/platform/websocket"
	"github.com/healthbook/healthbook/migrations"
)

const (
	version    = "0.1.0"
	streamPath = "/api/v1/events/stream"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "healthbook-server",
		Short:        "Appointment cancellation and refund reconciliation service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(webhookCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations unless dir is given.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for migrations")
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "public", "Target schema for migrations")
		c.Flags().String("dir", "", "Directory of SQL files (default: embedded migrations)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the cancellation policy",
	}

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Print the refund and penalty for a hypothetical cancellation",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, _ := cmd.Flags().GetInt64("amount")
			hours, _ := cmd.Flags().GetFloat64("hours-before")
			who, _ := cmd.Flags().GetString("initiated-by")

			now := time.Now().UTC()
			at := now.Add(time.Duration(hours * float64(time.Hour)))
			q, err := cancellation.ComputeCancellation(cancellation.Initiator(who), at, amount, now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initiated_by=%s amount=%d hours_before=%.2f refund=%d penalty=%d\n",
				who, amount, hours, q.RefundAmount, q.PenaltyAmount)
			return nil
		},
	}
	quoteCmd.Flags().Int64("amount", 0, "Payment amount in minor currency units")
	quoteCmd.Flags().Float64("hours-before", 0, "Hours between cancellation and appointment start")
	quoteCmd.Flags().String("initiated-by", string(cancellation.InitiatorPatient), "patient, doctor, hospital, system or admin")
	_ = quoteCmd.MarkFlagRequired("amount")
	cmd.AddCommand(quoteCmd)
	return cmd
}

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Gateway webhook tooling",
	}

	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the HMAC-SHA256 signature of a payload file",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			file, _ := cmd.Flags().GetString("file")
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}

			var payload []byte
			var err error
			if file == "" || file == "-" {
				payload, err = io.ReadAll(cmd.InOrStdin())
			} else {
				payload, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.SignPayload(payload, secret))
			return nil
		},
	}
	signCmd.Flags().String("secret", "", "Webhook signing secret")
	signCmd.Flags().String("file", "", "Payload file (default: stdin)")
	cmd.AddCommand(signCmd)
	return cmd
}

// stores bundles the repositories of one storage backend.
type stores struct {
	appointments  scheduling.AppointmentRepository
	payments      payment.Repository
	cancellations cancellation.Repository
	tx            db.TxManager
	pinger        db.Pinger
	close         func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case "bolt":
		buckets := append([]string{scheduling.BucketAppointments}, payment.Buckets...)
		buckets = append(buckets, cancellation.Buckets...)
		store, err := db.OpenBolt(cfg.BoltPath, buckets...)
		if err != nil {
			return nil, err
		}
		return &stores{
			appointments:  scheduling.NewAppointmentRepoBolt(store),
			payments:      payment.NewRepoBolt(store),
			cancellations: cancellation.NewRepoBolt(store),
			tx:            db.NoTx{},
			pinger:        store,
			close:         func() { store.Close() },
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &stores{
			appointments:  scheduling.NewAppointmentRepoPG(pool),
			payments:      payment.NewRepoPG(pool),
			cancellations: cancellation.NewRepoPG(pool),
			tx:            db.NewTxManager(pool),
			pinger:        db.PoolPinger{Pool: pool},
			close:         pool.Close,
		}, nil
	}
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "rabbitmq":
		return events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	case "webhook":
		return events.NewWebhookPublisher(webhook.NewSender(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret)), nil
	default:
		return events.NewLogPublisher(logger), nil
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.EventsDriver).Msg("failed to create event publisher")
		return err
	}

	var refunds cancellation.RefundExecutor
	if cfg.StripeAPIKey != "" {
		refunds = cancellation.NewStripeRefunder(cfg.StripeAPIKey)
	}

	e, drain := newServer(cfg, logger, st, publisher, refunds)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		drain()
		return err
	}
	drain()
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the HTTP surface and takes ownership of publisher. refunds
// may be nil. The returned drain waits for background refunds, delivers
// queued events and closes the sinks; call it once the server has stopped.
func newServer(cfg *config.Config, logger zerolog.Logger, st *stores, publisher events.Publisher, refunds cancellation.RefundExecutor) (*echo.Echo, func()) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M", map[string]string{
		"/webhooks/payments": cfg.WebhookBodyLimit,
		"/webhooks/stripe":   cfg.WebhookBodyLimit,
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/webhooks/", streamPath))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: signingKey(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(st.pinger))

	// Dashboards receive every event alongside the configured sink. Both sit
	// behind a queue so no request waits on delivery.
	hub := websocket.NewHub(logger)
	sink := events.NewAsyncPublisher(events.NewMultiPublisher(publisher, hub),
		cfg.EventsBuffer, cfg.EventsPublishTimeout, logger)

	paymentSvc := payment.NewService(st.payments)
	reconciler := payment.NewReconciler(st.payments, sink, logger)
	hooks := e.Group("/webhooks")
	payment.NewWebhookHandler(payment.NewAuthenticator(cfg.WebhookSecret), reconciler,
		cfg.WebhookSignatureHeader, cfg.WebhookTimeout, logger).RegisterRoutes(hooks)
	if cfg.StripeWebhookSecret != "" {
		payment.NewStripeWebhookHandler(payment.NewStripeAuthenticator(cfg.StripeWebhookSecret), reconciler,
			cfg.WebhookTimeout, logger).RegisterRoutes(hooks)
	}

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	cancelSvc := cancellation.NewService(st.cancellations, st.appointments, st.payments, st.tx, sink, logger)
	var dispatcher *cancellation.RefundDispatcher
	if refunds != nil {
		dispatcher = cancellation.NewRefundDispatcher(st.cancellations, st.payments, refunds, logger)
		dispatcher.SetTimeout(cfg.RefundTimeout)
	}
	cancellation.NewHandler(cancelSvc, dispatcher, logger).RegisterRoutes(apiV1)
	payment.NewHandler(paymentSvc).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1.Group("", auth.RequireRole(auth.RoleBilling)))

	drain := func() {
		if dispatcher != nil {
			dispatcher.Wait()
		}
		if err := sink.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}
	return e, drain
}

func signingKey(s string) []byte {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []byte(s)
}
