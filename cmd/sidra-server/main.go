package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sidra/sidra/internal/client"
	"github.com/sidra/sidra/internal/config"
	"github.com/sidra/sidra/internal/domain/forms"
	"github.com/sidra/sidra/internal/domain/reference"
	"github.com/sidra/sidra/internal/domain/supply"
	"github.com/sidra/sidra/internal/domain/users"
	"github.com/sidra/sidra/internal/intake/schema"
	"github.com/sidra/sidra/internal/intake/terminal"
	"github.com/sidra/sidra/internal/intake/wizard"
	"github.com/sidra/sidra/internal/platform/auth"
	"github.com/sidra/sidra/internal/platform/db"
	"github.com/sidra/sidra/internal/platform/metrics"
	"github.com/sidra/sidra/internal/platform/middleware"
	"github.com/sidra/sidra/migrations"
)

const version = "0.3.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sidra-server",
		Short:         "SIDRA drug-use intake API server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(userCmd())
	root.AddCommand(intakeCmd())
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

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// loadConfig reads and validates the configuration and opens the pool.
func loadConfig(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			for _, s := range statuses {
				applied := "pending"
				if s.Applied && s.AppliedAt != nil {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %-32s %s\n", s.Version, s.Name, applied)
			}
			return nil
		},
	})
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account, printing the generated password",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := users.UserInput{}
			in.Email, _ = cmd.Flags().GetString("email")
			in.FirstName, _ = cmd.Flags().GetString("first-name")
			in.LastName, _ = cmd.Flags().GetString("last-name")
			in.Structure, _ = cmd.Flags().GetString("structure")
			perms, _ := cmd.Flags().GetStringSlice("permissions")
			if err := checkPermissions(perms); err != nil {
				return err
			}
			in.Permissions = users.PermissionsFromRoles(perms)

			ctx := cmd.Context()
			cfg, pool, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env, cfg.LogLevel)
			svc, err := newUserService(cfg, pool, auth.NewTokenRevocationStore(time.Hour), logger)
			if err != nil {
				return err
			}
			u, password, err := svc.Create(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", u.Email, u.ID)
			if password != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Password: %s\n", password)
			}
			return nil
		},
	}
	create.Flags().String("email", "", "E-mail address (required)")
	create.Flags().String("first-name", "", "First name")
	create.Flags().String("last-name", "", "Last name")
	create.Flags().String("structure", "", "Structure the user belongs to")
	create.Flags().StringSlice("permissions", auth.AllPermissions, "Granted permissions")
	create.MarkFlagRequired("email")
	cmd.AddCommand(create)
	return cmd
}

func checkPermissions(perms []string) error {
	for _, p := range perms {
		if !auth.KnownPermission(p) {
			return fmt.Errorf("unknown permission %q (known: %s)", p, strings.Join(auth.AllPermissions, ", "))
		}
	}
	return nil
}

func intakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Intake form tools",
	}

	fill := &cobra.Command{
		Use:   "fill",
		Short: "Fill an intake form interactively against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			token, _ := cmd.Flags().GetString("token")
			edit, _ := cmd.Flags().GetString("edit")

			mode, recordID, err := parseFillMode(edit)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cl := client.New(server, client.WithToken(token))
			driver := terminal.NewSurveyDriver()
			if token == "" {
				u, err := terminal.Login(ctx, cl, driver)
				if err != nil {
					return err
				}
				driver.Info(ctx, fmt.Sprintf("Connecté en tant que %s %s", u.FirstName, u.LastName))
				defer cl.Logout(context.Background())
			}

			v, err := terminal.NewRunner(cl, driver).Run(ctx, mode, recordID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted; see %s\n", v.Redirect)
			return nil
		},
	}
	fill.Flags().String("server", "http://localhost:8000", "Base URL of the API server")
	fill.Flags().String("token", os.Getenv("SIDRA_TOKEN"), "Bearer token; prompts for a login when empty")
	fill.Flags().String("edit", "", "Record id to edit instead of creating a new record")
	cmd.AddCommand(fill)
	return cmd
}

func parseFillMode(edit string) (wizard.Mode, *uuid.UUID, error) {
	if edit == "" {
		return wizard.ModeCreate, nil, nil
	}
	id, err := uuid.Parse(edit)
	if err != nil {
		return "", nil, fmt.Errorf("--edit: invalid record id: %w", err)
	}
	return wizard.ModeEdit, &id, nil
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func newUserService(cfg *config.Config, pool *pgxpool.Pool, revoker auth.Revoker, logger zerolog.Logger) (*users.Service, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	issuer := auth.NewIssuer(cfg.AuthIssuer, key, cfg.AuthTokenTTL)
	return users.NewService(users.NewRepoPG(pool), users.NewChallengeRepoPG(pool), issuer, revoker,
		users.AuthConfig{OTPTTL: cfg.OTPTTL, DevOTP: cfg.OTPDevCode}, logger), nil
}

// unlimitedPaths are probes and scrapes that bypass the rate limiter.
func unlimitedPaths(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/health" || p == "/health/db" || p == "/metrics"
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests run as a dev user and OTP codes are fixed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := map[string]db.Check{"database": pool.Ping}

	// Sessions and revoked tokens live in redis when configured so that
	// several instances can share them.
	var (
		sessions   wizard.Store
		memStore   *wizard.MemoryStore
		revoker    auth.Revoker
		memRevoker *auth.TokenRevocationStore
	)
	if cfg.RedisURL != "" {
		rdb, err := newRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer rdb.Close()
		sessions = wizard.NewRedisStore(rdb, cfg.SessionTTL)
		revoker = auth.NewRedisRevoker(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info().Msg("connected to redis")
	} else {
		memStore = wizard.NewMemoryStore(cfg.SessionTTL)
		memRevoker = auth.NewTokenRevocationStore(10 * time.Minute)
		defer memRevoker.Close()
		sessions, revoker = memStore, memRevoker
	}

	key, err := cfg.SigningKey()
	if err != nil {
		return err
	}

	// Services
	formSvc := forms.NewService(forms.NewRepoPG(pool))
	refSvc := reference.NewService(reference.NewRepoPG(pool), logger)
	supplySvc := supply.NewService(supply.NewRepoPG(pool))
	userSvc, err := newUserService(cfg, pool, revoker, logger)
	if err != nil {
		return err
	}
	wizardSvc := wizard.NewService(schema.Default(), sessions, formSvc, refSvc, logger)

	if err := refSvc.Start(ctx, cfg.ReferenceRefreshInterval); err != nil {
		return err
	}
	defer refSvc.Stop()
	if err := userSvc.StartPurge(cfg.OTPPurgeInterval); err != nil {
		return err
	}
	defer userSvc.Stop()

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Skipper:           unlimitedPaths,
	})
	housekeeping := gocron.NewScheduler(time.Local)
	_, err = housekeeping.Every(5 * time.Minute).WaitForSchedule().Do(func() {
		evicted := limiter.Sweep()
		purged := 0
		if memStore != nil {
			purged = memStore.Purge()
		}
		logger.Debug().Int("buckets_evicted", evicted).Int("sessions_purged", purged).Msg("housekeeping")
	})
	if err != nil {
		return fmt.Errorf("schedule housekeeping: %w", err)
	}
	housekeeping.StartAsync()
	defer housekeeping.Stop()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		SigningKey: key,
		Revoked:    revoker,
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(limiter.Middleware())
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	users.NewHandler(userSvc).RegisterAuthRoutes(e.Group("/api/auth"))

	apiV1 := e.Group("/api/v1")
	forms.NewHandler(formSvc).RegisterRoutes(apiV1)
	reference.NewHandler(refSvc).RegisterRoutes(apiV1)
	supply.NewHandler(supplySvc).RegisterRoutes(apiV1)
	users.NewHandler(userSvc).RegisterRoutes(apiV1)
	wizard.NewHandler(wizardSvc).RegisterRoutes(apiV1)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
