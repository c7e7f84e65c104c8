package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nftlend/core/events"
	"nftlend/core/state"
	"nftlend/gateway/middleware"
	nativecommon "nftlend/native/common"
	"nftlend/native/lending"
	"nftlend/observability"
	"nftlend/observability/logging"
	telemetry "nftlend/observability/otel"
	"nftlend/services/lendingd/archive"
	"nftlend/services/lendingd/config"
	"nftlend/services/lendingd/server"
	"nftlend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NFTLEND_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, logCloser := logging.SetupWithOptions("lendingd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := initTelemetry(env)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	module, err := config.LoadModule(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("load module params: %v", err)
	}

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer db.Close()
	store := state.NewStore(db)
	applied, err := store.ApplyGenesis(module.Genesis)
	if err != nil {
		log.Fatalf("apply genesis: %v", err)
	}
	if applied {
		logger.Info("genesis allocations applied",
			"native", len(module.Genesis.Native),
			"token", len(module.Genesis.Token),
			"nft", len(module.Genesis.NFTs))
	}

	var eventLog *archive.Archive
	if cfg.Archive.DSN != "" {
		eventLog, err = archive.Open(cfg.Archive.DSN, logger.With("component", "archive"))
		if err != nil {
			log.Fatalf("open event archive: %v", err)
		}
		defer eventLog.Close()
	}

	engine, pauses, err := buildEngine(cfg, module, store, eventLog)
	if err != nil {
		log.Fatalf("configure engine: %v", err)
	}
	metrics := observability.Lending()
	metrics.SetPause(pauses.IsPaused(lending.ModuleName))
	service := server.NewService(engine, store, pauses, metrics, logger.With("component", "lending"))

	stdLogger := slog.NewLogLogger(logger.Handler(), slog.LevelWarn)
	authCfg := middleware.AuthConfig{
		Enabled:    !cfg.Auth.Disabled,
		HMACSecret: cfg.Auth.JWT.HMACSecret,
		Issuer:     cfg.Auth.JWT.Issuer,
		Audience:   cfg.Auth.JWT.Audience,
		APITokens:  make(map[string]middleware.Principal, len(cfg.Auth.Accounts)),
	}
	for _, account := range cfg.Auth.Accounts {
		caller, err := account.Caller()
		if err != nil {
			log.Fatalf("auth account: %v", err)
		}
		authCfg.APITokens[account.Token] = middleware.Principal{Caller: caller, Scopes: account.Scopes}
		logger.Info("api account configured", "address", caller.String(), logging.MaskField("token", account.Token))
	}
	if cfg.Auth.Disabled {
		if !strings.EqualFold(env, "dev") {
			log.Fatalf("auth.disabled is restricted to the dev environment")
		}
		logger.Warn("authentication disabled; trusting " + middleware.CallerHeader)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"lending": {RatePerSecond: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst},
		}, stdLogger)
		limiter.OnThrottle = func(string) { metrics.RecordThrottle("rate_limit") }
	}

	var eventSource server.EventLog
	if eventLog != nil {
		eventSource = eventLog
	}
	srv, err := server.New(server.Config{
		Service:       service,
		Events:        eventSource,
		Authenticator: middleware.NewAuthenticator(authCfg, stdLogger),
		RateLimiter:   limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "lendingd",
			Enabled:     true,
			LogRequests: strings.EqualFold(env, "dev"),
		}, logger.With("component", "http")),
		CORS:   middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "address", listener.Addr().String(), "tls", cfg.TLS.Enabled(), "module", engine.ModuleAddress().String())
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func initTelemetry(env string) (func(context.Context) error, error) {
	return telemetry.Init(context.Background(), telemetry.FromEnv("lendingd", env, os.LookupEnv))
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendBolt:
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.BackendMemory, "":
		return storage.NewMemDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func buildEngine(cfg config.Config, module config.ModuleFile, store *state.Store, eventLog *archive.Archive) (*lending.Engine, *nativecommon.Pauses, error) {
	moduleAddr, err := cfg.Module()
	if err != nil {
		return nil, nil, err
	}
	update, err := module.Lending.ConfigUpdate()
	if err != nil {
		return nil, nil, err
	}
	admins, err := module.Lending.AdminAddresses()
	if err != nil {
		return nil, nil, err
	}

	pauses := nativecommon.NewPauses()
	if module.Lending.Paused {
		pauses.Set(lending.ModuleName, true)
	}
	emitters := events.Multi{observability.Events()}
	if eventLog != nil {
		emitters = append(emitters, eventLog)
	}

	engine := lending.NewEngine(moduleAddr, new(big.Int).SetUint64(cfg.ChainID))
	engine.SetStore(store)
	engine.SetPauses(pauses)
	engine.SetAuthorizer(lending.NewStaticAuthorizer(admins...))
	engine.SetEmitter(emitters)
	if _, err := engine.EnsureConfig(update); err != nil {
		return nil, nil, fmt.Errorf("initial config: %w", err)
	}
	return engine, pauses, nil
}
