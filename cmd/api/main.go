package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"actorgate.org/internal/auth"
	"actorgate.org/internal/config"
	"actorgate.org/internal/httpapi"
	"actorgate.org/internal/obs"
	"actorgate.org/internal/store/memory"
	"actorgate.org/internal/store/pg"
	"actorgate.org/internal/store/redisrot"
	"actorgate.org/internal/store/sqlite"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Error("startup_failed", err, nil)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, cfg.OTelEndpoint, "actorgate-api", version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	issuer, err := auth.NewIssuer(cfg.AuthSecret,
		auth.WithIssuerName(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return err
	}

	opts := []auth.ServiceOption{
		auth.WithHashCost(cfg.BcryptCost),
		auth.WithObserver(obs.AuthObserver{}),
	}
	var pingers []interface{ Ping(context.Context) error }
	if cfg.RedisURL != "" {
		rot, err := redisrot.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rot.Close()
		opts = append(opts, auth.WithRotationStore(rot))
		pingers = append(pingers, rot)
	}
	proxies, err := cfg.ProxyPrefixes()
	if err != nil {
		return err
	}
	if len(cfg.FederatedSecrets) > 0 {
		verifier := auth.NewJWTAssertionVerifier(cfg.FederatedSecrets, nil)
		opts = append(opts, auth.WithAssertionVerifier(verifier))
		obs.Info("federation_enabled", map[string]any{"providers": verifier.Providers()})
	}
	if cfg.LivenessTTL > 0 {
		opts = append(opts, auth.WithLivenessCheck(cfg.LivenessTTL))
	}

	svc, err := auth.NewService(store, issuer, opts...)
	if err != nil {
		return err
	}
	readiness := httpapi.ReadyProbe{Pingers: append(pingers, svc)}

	api := httpapi.New(svc,
		httpapi.WithVersion(version),
		httpapi.WithReadiness(readiness),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORSOrigins(cfg.CORSOrigins...),
		httpapi.WithTrustedProxies(proxies...),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := httpapi.NewGRPCServer(svc, readiness)
	if err := grpcSrv.CheckReadiness(ctx); err != nil {
		obs.Error("grpc_not_ready", err, nil)
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Info("http_listen", map[string]any{"addr": srv.Addr, "version": version, "backend": cfg.Backend()})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen http: %w", err)
		}
	}()
	go func() {
		obs.Info("grpc_listen", map[string]any{"addr": cfg.GRPCAddr})
		if err := grpcSrv.Server().Serve(lis); err != nil {
			errCh <- fmt.Errorf("serve grpc: %w", err)
		}
	}()
	go purgeRotations(ctx, svc, cfg.RotationPurgeEvery)
	go watchReadiness(ctx, grpcSrv)

	awaitShutdown(ctx, errCh)
	obs.Info("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	obs.Info("stopped", nil)
	return nil
}

// awaitShutdown blocks until ctx is cancelled or a server fails.
func awaitShutdown(ctx context.Context, errCh <-chan error) {
	select {
	case <-ctx.Done():
	case err := <-errCh:
		obs.Error("server_error", err, nil)
	}
}

func openStore(cfg config.Config) (auth.Store, func(), error) {
	switch cfg.Backend() {
	case "postgres":
		s, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		obs.Log("warn", "memory_store", map[string]any{"detail": "accounts are lost on restart"})
		return memory.New(), func() {}, nil
	}
}

func purgeRotations(ctx context.Context, svc *auth.Service, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeRotations(ctx)
			if err != nil {
				obs.Error("rotation_purge_failed", err, nil)
				continue
			}
			if n > 0 {
				obs.Info("rotation_purge", map[string]any{"deleted": n})
			}
		}
	}
}

func watchReadiness(ctx context.Context, s *httpapi.GRPCServer) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := s.CheckReadiness(checkCtx); err != nil {
				obs.Error("readiness_failed", err, nil)
			}
			cancel()
		}
	}
}
