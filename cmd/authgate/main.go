package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/config"
	"github.com/goliatone/go-auth-gate/repository"
	"github.com/goliatone/go-auth-gate/social"
	"github.com/goliatone/go-auth-gate/social/providers/github"
	"github.com/goliatone/go-auth-gate/social/providers/oidc"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	log := logrus.New()
	if err := run(*configPath, log); err != nil {
		log.WithError(err).Fatal("authgate stopped")
	}
}

func run(configPath string, log *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.SetLevel(auth.ParseLogLevel(cfg.Logging.Level))
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	logger := auth.NewLogrusLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repos := repository.NewManager(db)
	repos.MustValidate()

	perms, err := cfg.PermissionMap()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := auth.NewMetrics(registry)

	auditor := auth.NewAuditor(repos.Audit(), logger.WithField("component", "audit"))
	defer auditor.Wait()

	tokens := auth.NewTokenService(cfg.TokenConfig(), repos.Identities(), auth.WithTokenLogger(logger))

	guard, err := auth.NewGuard(tokens, repos.Identities(), perms, cfg.GuardConfig(),
		auth.WithGuardAuditor(auditor),
		auth.WithGuardMetrics(metrics),
		auth.WithGuardLogger(logger.WithField("component", "guard")),
	)
	if err != nil {
		return err
	}

	accounts := auth.NewAccounts(repos.Identities(), tokens, perms,
		auth.WithAccountsAuditor(auditor),
		auth.WithAccountsLogger(logger),
	)

	if msg, ok := cfg.BootstrapAdmin(); ok {
		msg.IgnoreExisting = true
		if err := auth.NewCreateAccountHandler(accounts).Execute(ctx, msg); err != nil {
			return fmt.Errorf("seed administrator: %w", err)
		}
	}

	fedOpts := []social.FederatorOption{
		social.WithPermissions(perms),
		social.WithAuditor(auditor),
		social.WithMetrics(metrics),
		social.WithLogger(logger.WithField("component", "federation")),
		social.WithStateStore(stateStore(cfg, logger)),
	}
	for _, pc := range cfg.Federation.Providers {
		provider, err := oidc.New(ctx, pc)
		if err != nil {
			return fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		fedOpts = append(fedOpts, social.WithProvider(provider))
	}

	if gh := cfg.Federation.GitHub; gh.ClientID != "" {
		provider, err := github.New(github.Config{
			ClientID:     gh.ClientID,
			ClientSecret: gh.ClientSecret,
			CallbackURL:  gh.CallbackURL,
		})
		if err != nil {
			return err
		}
		fedOpts = append(fedOpts, social.WithProvider(provider))
	}

	federator, err := social.NewFederator(repos.Identities(), tokens, cfg.FederationConfig(), fedOpts...)
	if err != nil {
		return err
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:          true,
			StrictRouting:         false,
			DisableStartupMessage: true,
		}))
	})

	protectOpts := []auth.ProtectOption{
		auth.WithProtectCookie(cfg.Cookies.Name),
		auth.WithProtectErrorHandler(auth.JSONErrorHandler(logger)),
	}

	auth.RegisterAuthRoutes(srv.Router().Group("/"),
		auth.NewAuthController(accounts, tokens, guard,
			auth.WithControllerLogger(logger),
			auth.WithControllerProtectOptions(protectOpts...),
		),
	)

	social.NewHTTPController(federator, social.HTTPConfig{
		CookieName:      cfg.Cookies.Name,
		CookieSecure:    cfg.Cookies.Secure,
		CookieSameSite:  cfg.Cookies.SameSite,
		SessionTTL:      cfg.Token.Lifetime,
		PendingRedirect: cfg.Federation.PendingRedirect,
		ErrorRedirect:   cfg.Federation.ErrorRedirect,
	}).RegisterRoutes(srv.Router().Group("/auth/oauth"))

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	go func() {
		logger.Info("authgate listening", "address", cfg.Server.Address, "providers", federator.Providers())
		srv.Serve(cfg.Server.Address)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

func openDB(cfg *config.Config) (*bun.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		sqldb, err := sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
}

func stateStore(cfg *config.Config, logger auth.Logger) social.StateStore {
	if cfg.Redis.Address == "" {
		logger.Warn("redis not configured, oauth state is kept in memory")
		return social.NewMemoryStateStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return social.NewRedisStateStore(client, cfg.Redis.KeyPrefix)
}
