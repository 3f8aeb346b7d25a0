package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/domain/audit"
	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/domain/escalation"
	"github.com/careline/careline/internal/domain/triage"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/bus"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careline-server",
		Short: "Clinical decision support API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Model artifact: a missing artifact degrades to rule + medication
	// analysis, it does not block startup.
	registry := triage.NewRegistry()
	if err := registry.Load(cfg.ModelPath); err != nil {
		logger.Warn().Err(err).Str("path", cfg.ModelPath).
			Msg("risk model artifact not loaded; analyses proceed without ml_result")
	} else {
		logger.Info().Str("version", registry.Version()).Msg("risk model loaded")
	}
	defer registry.Close()

	// Drug interaction reference, read once at startup.
	medEngine, err := triage.LoadMedEngine(ctx, triage.NewInteractionRepoPG(pool))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load drug interaction reference")
	}

	// Repositories
	caseRepo := cases.NewCaseRepoPG(pool)
	vitalsRepo := cases.NewVitalsRepoPG(pool)
	medicationRepo := cases.NewMedicationRepoPG(pool)
	symptomRepo := cases.NewSymptomRepoPG(pool)
	assessmentRepo := cases.NewAssessmentRepoPG(pool)
	adviceRepo := cases.NewAdviceRepoPG(pool)
	auditRepo := audit.NewRepoPG(pool)

	// Services
	txRunner := db.NewTxRunner(pool)
	auditSvc := audit.NewService(auditRepo)
	hub := bus.NewHub(logger)

	triageSvc := triage.NewService(
		txRunner, registry, medEngine,
		caseRepo, vitalsRepo, medicationRepo, symptomRepo, assessmentRepo,
		auditSvc, hub,
		triage.Timeouts{
			Rule:      cfg.RuleTimeout,
			Model:     cfg.ModelTimeout,
			Med:       cfg.MedTimeout,
			Composite: cfg.AnalyzeTimeout,
		},
		logger,
	)

	sbarGen := escalation.NewSBARGenerator(cfg.SBARServiceURL, cfg.SBARTimeout, logger)
	escalationSvc := escalation.NewService(
		txRunner,
		caseRepo, vitalsRepo, medicationRepo, symptomRepo, assessmentRepo, adviceRepo,
		auditSvc, hub, sbarGen,
		cfg.TokenTTL, cfg.TokenSingleUse, cfg.PortalBaseURL,
		logger,
	)

	caseSvc := cases.NewService(
		txRunner,
		caseRepo, vitalsRepo, medicationRepo, symptomRepo, assessmentRepo, adviceRepo,
		auditSvc, hub,
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware; specialist endpoints and the websocket upgrade carry
	// their own token auth.
	skipper := func(c echo.Context) bool {
		path := c.Request().URL.Path
		return path == "/healthz" ||
			strings.HasPrefix(path, "/ws/") ||
			strings.HasPrefix(path, "/api/v1/specialist/")
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Secret:  []byte(cfg.JWTSecret),
			Skipper: skipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Routes
	e.GET("/healthz", func(c echo.Context) error {
		if err := db.Ping(c.Request().Context(), pool); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":       "healthy",
			"model_loaded": registry.Ready(),
			"pool":         db.GetPoolStats(pool),
		})
	})

	apiV1 := e.Group("/api/v1")
	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)
	escalation.NewHandler(escalationSvc).RegisterRoutes(apiV1)
	cases.NewHandler(caseSvc).RegisterRoutes(apiV1)

	bus.NewWSHandler(hub, []byte(cfg.JWTSecret), escalationSvc, cfg.PingInterval, logger).RegisterRoutes(e)

	// Start with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
