// Command controlplane runs the deploy control plane: it loads
// configuration, wires C1-C7, mounts the HTTP binding layer, and serves
// until a termination signal arrives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sitedeploy/internal/api"
	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/cache"
	"sitedeploy/internal/config"
	"sitedeploy/internal/containers"
	"sitedeploy/internal/gitworkspace"
	"sitedeploy/internal/logging"
	"sitedeploy/internal/ports"
	"sitedeploy/internal/proxy"
	"sitedeploy/internal/registry"
	"sitedeploy/internal/sessions"
)

func main() {
	cfg := config.Load()
	logging.Init()
	log := logging.L()

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		log.Fatal("create root dir", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("create data dir", zap.Error(err))
	}

	dbDriver := registry.DriverSQLite
	dbDSN := cfg.DataDir + "/sitedeploy.db"
	if cfg.DatabaseDriver == "postgres" {
		dbDriver = registry.DriverPostgres
		dbDSN = cfg.DatabaseDSN
	}
	db, err := registry.Connect(registry.Config{Driver: dbDriver, DSN: dbDSN})
	if err != nil {
		log.Fatal("connect registry", zap.Error(err))
	}
	if dbDriver == registry.DriverPostgres {
		if err := registry.RunMigrations(dbDSN); err != nil {
			log.Fatal("run registry migrations", zap.Error(err))
		}
	}
	reg := registry.New(db)

	portCfg := ports.DefaultConfig()
	portCfg.ProductionBase = cfg.ProductionPortBase
	portCfg.PreviewBase = cfg.PreviewPortBase
	portCfg.SessionBase = cfg.SessionPortBase
	preallocated, err := reg.LoadPortAllocations()
	if err != nil {
		log.Fatal("load port allocations", zap.Error(err))
	}
	pool := ports.NewAllocator(portCfg, preallocated)
	pool.SetPersister(reg)

	resolver := buildplan.NewResolver(nil)
	supervisor := containers.NewSupervisor(resolver, pool)
	git := gitworkspace.NewService()

	routeCache := cache.NewRouteCache(cache.RegistrySource{Registry: reg}, cache.Config{
		TTL:       5 * time.Second,
		RedisAddr: cfg.RedisURL,
	})

	proxyOpts := proxy.ConfigOptions{
		Domain:       cfg.ProjectDomain,
		EditorDomain: cfg.EditorDomain,
		AdminAddr:    cfg.ProxyAdminAddr,
		StorageRoot:  cfg.DataDir,
		ControlPlane: "localhost:" + cfg.Port,
		HealthPath:   "/health",
	}
	caddyfileDir := cfg.DataDir + "/caddy"
	if err := os.MkdirAll(caddyfileDir, 0o755); err != nil {
		log.Fatal("create caddy config dir", zap.Error(err))
	}
	orchestrator := proxy.NewOrchestrator(reg, routeCache, proxyOpts, caddyfileDir+"/Caddyfile")

	sessionCfg := sessions.DefaultConfig()
	sessionCfg.SessionCap = cfg.SessionCap
	sessionCfg.SessionTTL = cfg.SessionTTL
	sessionCfg.SweeperInterval = cfg.SweeperInterval
	sessionCfg.Domain = cfg.ProjectDomain
	sessionManager := sessions.NewManager(reg, git, supervisor, pool, orchestrator, sessionCfg)

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := supervisor.Discover(ctx); err != nil {
		log.Error("container discovery failed, continuing with an empty view", zap.Error(err))
	}
	stopSweeper := sessionManager.StartSweeper(ctx)
	defer stopSweeper()

	engine := api.New(api.Deps{
		Registry:     reg,
		Git:          git,
		Resolver:     resolver,
		Supervisor:   supervisor,
		Orchestrator: orchestrator,
		Sessions:     sessionManager,
		Cfg:          cfg,
	})

	runServer(ctx, log, cfg.Port, engine)
}

func runServer(ctx context.Context, log *zap.Logger, port string, engine http.Handler) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("control plane listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}
