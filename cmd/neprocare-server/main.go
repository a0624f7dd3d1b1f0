package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/neprocare/neprocare/internal/config"
	"github.com/neprocare/neprocare/internal/domain/evaluation"
	"github.com/neprocare/neprocare/internal/domain/rules"
	"github.com/neprocare/neprocare/internal/domain/visit"
	"github.com/neprocare/neprocare/internal/platform/auth"
	"github.com/neprocare/neprocare/internal/platform/db"
	"github.com/neprocare/neprocare/internal/platform/middleware"
	"github.com/neprocare/neprocare/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "neprocare-server",
		Short: "Clinical decision-support rule engine server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the rule engine API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Compile a CSV rule sheet and publish it as a new version",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			namespace, _ := cmd.Flags().GetString("namespace")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if namespace == "" {
				namespace = cfg.RulesNamespace
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
			repo := rules.NewArtifactRepoPG(pool)
			store := rules.NewStore(rules.NewRepoSource(repo))
			svc := rules.NewService(repo, store, logger)

			rs, err := svc.PublishCSV(ctx, f, namespace)
			if err != nil {
				return fmt.Errorf("publish failed: %w", err)
			}

			fmt.Printf("Published %d rule(s) to namespace %q.\n", len(rs.Rules), namespace)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the CSV rule sheet")
	cmd.Flags().String("namespace", "", "Target namespace (defaults to RULES_NAMESPACE)")
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	signingKey, generated, err := resolveSigningKey(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; generated an ephemeral signing key for this process")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "neprocare-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tp.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: signingKey,
		}))
	}

	// API group
	api := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Domain wiring
	artifactRepo := rules.NewArtifactRepoPG(pool)
	store := rules.NewStore(rules.NewRepoSource(artifactRepo))
	rulesSvc := rules.NewService(artifactRepo, store, logger).WithMetrics(tp)
	rulesHandler := rules.NewHandler(rulesSvc, cfg.RulesPublishToken)
	rulesHandler.RegisterRoutes(api)

	evalSvc := evaluation.NewService(store, logger).WithMetrics(tp)
	evalHandler := evaluation.NewHandler(evalSvc, cfg.RulesNamespace)
	evalHandler.RegisterRoutes(api)

	visitRepo := visit.NewRepoPG(pool)
	visitSvc := visit.NewService(visitRepo)
	visitHandler := visit.NewHandler(visitSvc)
	visitHandler.RegisterRoutes(api)

	// Scheduled republish from an external CSV source, standing in for the
	// original periodic spreadsheet pull.
	if cfg.RulesSourceURL != "" {
		republishCtx, republishCancel := context.WithCancel(context.Background())
		defer republishCancel()
		go runRepublishLoop(republishCtx, logger, rulesSvc, cfg.RulesSourceURL, cfg.RulesNamespace, cfg.RulesPublishInterval)
		logger.Info().
			Str("url", cfg.RulesSourceURL).
			Dur("interval", cfg.RulesPublishInterval).
			Msg("scheduled republish enabled")
	}

	// Health checks and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// runRepublishLoop republishes the namespace from the CSV source on a fixed
// interval until the context is cancelled. A failed pull keeps the current
// version live and retries on the next tick.
func runRepublishLoop(ctx context.Context, logger zerolog.Logger, svc *rules.Service, url, namespace string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 30 * time.Second}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pullCtx, cancel := context.WithTimeout(ctx, time.Minute)
			rs, err := svc.PublishFromURL(pullCtx, client, url, namespace)
			cancel()
			if err != nil {
				logger.Error().Err(err).Str("namespace", namespace).Msg("scheduled republish failed")
				continue
			}
			logger.Info().Str("namespace", namespace).Int("rules", len(rs.Rules)).Msg("scheduled republish completed")
		}
	}
}

// resolveSigningKey returns the HMAC signing key for JWT validation. When no
// secret is configured (development only; Validate rejects this in other
// environments) an ephemeral random key is generated so tokens from a prior
// process never validate.
func resolveSigningKey(secret string) ([]byte, bool, error) {
	if secret != "" {
		return []byte(secret), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}
