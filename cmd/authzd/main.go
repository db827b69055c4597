package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"peoplegate.org/internal/audit"
	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/breakglass"
	"peoplegate.org/internal/cachetag"
	"peoplegate.org/internal/config"
	"peoplegate.org/internal/httpapi"
	"peoplegate.org/internal/ids"
	"peoplegate.org/internal/obs"
	"peoplegate.org/internal/policies"
	"peoplegate.org/internal/ratelimit"
	"peoplegate.org/internal/session"
	"peoplegate.org/internal/store/memory"
	"peoplegate.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// authzStore is what the daemon needs from a storage backend.
type authzStore interface {
	authz.MembershipRepository
	authz.RoleStore
	authz.OrganizationRepository
	authz.UserDirectory
	policies.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authzd stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	catalog, err := config.LoadRoleCatalog(cfg.RoleCatalogPath)
	if err != nil {
		return err
	}

	var (
		store      authzStore
		approvals  breakglass.Store
		sinks      = audit.Multi{audit.NewLogSink(logger.Named("audit"))}
		readyFuncs []func(context.Context) error
	)
	if cfg.PostgresDSN != "" {
		pgStore, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		approvals = pgStore.BreakGlass()
		sinks = append(sinks, audit.NewBreakerSink("postgres", pgStore.AuditSink(), 5, 30*time.Second, logger))
		readyFuncs = append(readyFuncs, pgStore.Ping)
	} else {
		mem := memory.New()
		bootstrap, err := config.LoadPolicies(cfg.PoliciesPath)
		if err != nil {
			return err
		}
		for orgID, list := range bootstrap {
			mem.SetPolicies(orgID, list)
		}
		store = mem
		approvals = breakglass.NewMemoryStore()
		logger.Warn("PEOPLEGATE_PG_DSN not set, using in-memory stores")
	}

	var (
		cacheBackend cachetag.Backend = cachetag.NewMemoryBackend()
		limiterStore ratelimit.Store
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		cacheBackend = cachetag.NewRedisBackend(rdb, "peoplegate:cache:")
		limiterStore = ratelimit.NewRedisStore(rdb, "peoplegate:ratelimit:")
		readyFuncs = append(readyFuncs, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	var override *authz.DevOverride
	if cfg.DevOverrideActive() {
		override = authz.NewDevOverride(authz.DevOverrideConfig{
			Enabled:        true,
			PlatformOrgID:  cfg.PlatformOrgID,
			OperatorEmails: cfg.OperatorEmails,
		}, store, store, store, catalog, logger)
		logger.Warn("development admin override is active",
			zap.String("env", cfg.Environment),
			zap.Int("operators", len(cfg.OperatorEmails)),
		)
	}

	guard, err := authz.NewGuard(
		authz.NewMembershipResolver(store, override),
		authz.NewPermissionResolver(store, logger),
		store,
		authz.WithRoleCatalog(catalog),
		authz.WithAuditSink(sinks),
		authz.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewFixedWindow(limiterStore, cfg.BreakGlassApprovalLimit, cfg.BreakGlassApprovalWindow,
		ratelimit.WithLogger(logger))
	if err != nil {
		return err
	}
	bg, err := breakglass.NewService(guard, approvals,
		breakglass.WithLimiter(limiter),
		breakglass.WithAuditSink(sinks),
		breakglass.WithTTL(cfg.BreakGlassTTL),
		breakglass.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	pol, err := policies.NewService(guard, store,
		policies.WithCache(cachetag.New(cacheBackend, cfg.CacheTTL, logger)),
		policies.WithRoleCatalog(catalog),
		policies.WithAuditSink(sinks),
		policies.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	secret := cfg.SessionSecret
	if secret == "" {
		// Validate refuses this in production.
		secret = ids.NewCorrelationID() + ids.NewCorrelationID()
		logger.Warn("PEOPLEGATE_SESSION_SECRET not set, using an ephemeral secret")
	}
	verifier, err := session.NewVerifier(secret, session.WithIssuer(cfg.SessionIssuer))
	if err != nil {
		return err
	}

	readiness := httpapi.ReadyFunc(func(ctx context.Context) error {
		for _, check := range readyFuncs {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	})

	api := httpapi.New(guard, bg, verifier,
		httpapi.WithPolicies(pol),
		httpapi.WithReadiness(readiness),
		httpapi.WithLogger(logger),
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(httpapi.UnarySessionInterceptor(verifier, logger)))
	httpapi.NewGRPCServer(readiness).Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		err := httpSrv.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
		return err
	})
	return g.Wait()
}
