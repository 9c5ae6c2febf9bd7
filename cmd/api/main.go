package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetconsole.org/internal/authn"
	"fleetconsole.org/internal/console"
	"fleetconsole.org/internal/httpapi"
	"fleetconsole.org/internal/obs"
	"fleetconsole.org/internal/policy"
	"fleetconsole.org/internal/session"
	"fleetconsole.org/internal/store/pg"
	"fleetconsole.org/internal/tenant"
)

var version = "0.3.0"

func main() {
	obs.Init()

	secret := os.Getenv("FLEETCONSOLE_AUTH_SECRET")
	backend, err := authn.NewService(secret)
	if err != nil {
		log.Fatalf("auth backend: %v", err)
	}

	manager, err := session.NewManager(backend)
	if err != nil {
		log.Fatalf("session manager: %v", err)
	}
	sessions, err := session.NewStore(manager, session.WithAutoRefresh(time.Minute))
	if err != nil {
		log.Fatalf("session store: %v", err)
	}

	// Optional Postgres persistence; in-memory stores otherwise.
	var (
		store       *pg.Store
		consoleOpts []console.Option
		policyOpts  []policy.ServiceOption
	)
	if dsn := os.Getenv("FLEETCONSOLE_PG_DSN"); dsn != "" {
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := store.Migrate(ctx); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
		policyOpts = append(policyOpts, policy.WithStore(store.Policies()))
		consoleOpts = append(consoleOpts, console.WithDeviceStore(store.Devices()))
	}

	policies := policy.NewService(policyOpts...)
	tenants := tenant.NewManager()

	app, err := console.New(sessions, policies, tenants, consoleOpts...)
	if err != nil {
		log.Fatalf("console: %v", err)
	}

	var probe httpapi.ReadyProbe
	if store != nil {
		probe.DB = store.DB()
	}
	api := httpapi.New(app, probe, version)

	addr := os.Getenv("FLEETCONSOLE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.RateLimit(api.Handler(), 50, 25),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting fleetconsole-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
