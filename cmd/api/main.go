package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aegis.org/internal/auth"
	"aegis.org/internal/authority"
	"aegis.org/internal/bot"
	"aegis.org/internal/config"
	"aegis.org/internal/events"
	"aegis.org/internal/obs"
	"aegis.org/internal/routes"
	"aegis.org/internal/store/pg"
	"aegis.org/internal/workspace"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	registry := routes.NewRegistry()
	if err := registerRoutes(registry); err != nil {
		log.Fatalf("register routes: %v", err)
	}

	opener := func(ctx context.Context, key string) (auth.Store, error) {
		return pg.Open(ctx, cfg.DatabaseDSN, key)
	}

	manager, err := workspace.NewManager(opener, registry, cfg.TokenSecret,
		workspace.WithDefaults(workspace.Defaults{
			AdminEmail:    cfg.AdminEmail,
			AdminPassword: cfg.AdminPassword,
		}),
		workspace.WithSeedDir(cfg.SeedDir),
		workspace.WithRetryBackoff(cfg.RetryBackoff),
	)
	if err != nil {
		log.Fatalf("workspace manager: %v", err)
	}

	monitor, err := bot.NewMonitor(manager,
		bot.WithInterval(cfg.BotSweep),
		bot.WithStaleness(cfg.BotStaleness),
	)
	if err != nil {
		log.Fatalf("bot monitor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Run(ctx)

	if cfg.AuthorityURL != "" && cfg.AppUUID != "" {
		client, err := authority.NewClient(cfg.AuthorityURL, cfg.AppUUID)
		if err != nil {
			log.Fatalf("authority client: %v", err)
		}
		go authority.NewRegistrar(client, "").Run(ctx)
		go workspace.NewPoller(manager, client, cfg.PollInterval).Run(ctx)
	}

	if cfg.BrokerURL != "" {
		consumer, err := events.NewConsumer(cfg.BrokerURL, manager)
		if err != nil {
			log.Fatalf("events consumer: %v", err)
		}
		go consumer.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		states := make(map[string]string)
		for _, key := range manager.Keys() {
			states[key] = manager.State(key).String()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"workspaces": states})
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting aegis-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// registerRoutes declares the route surface this service exposes, paired
// with the resource/action each endpoint is protected by. The registry is
// exported into every workspace's privileges during bootstrap.
func registerRoutes(r *routes.Registry) error {
	specs := []struct{ method, url, resource, action string }{
		{"POST", "/auth/login", "auth", "login"},
		{"GET", "/auth/me", "auth", "read"},
		{"POST", "/auth/reset", "auth", "reset"},
		{"GET", "/users", "users", "read"},
		{"GET", "/users/:id", "users", "read"},
		{"POST", "/users", "users", "write"},
		{"PATCH", "/users/:id", "users", "write"},
		{"GET", "/roles", "roles", "read"},
		{"GET", "/roles/:id", "roles", "read"},
		{"POST", "/roles", "roles", "write"},
		{"PATCH", "/roles/:id", "roles", "write"},
		{"POST", "/roles/:id/privileges", "roles", "grant"},
		{"DELETE", "/roles/:id/privileges", "roles", "grant"},
		{"GET", "/privileges", "privileges", "read"},
		{"POST", "/privileges/:resource/routes", "privileges", "write"},
	}
	for _, s := range specs {
		if err := r.Register(s.method, s.url, s.resource, s.action); err != nil {
			return err
		}
	}
	return nil
}
