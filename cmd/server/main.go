package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gatekit/gatekit/internal/api"
	"github.com/gatekit/gatekit/internal/config"
	"github.com/gatekit/gatekit/internal/engine"
	"github.com/gatekit/gatekit/internal/registry"
	"github.com/gatekit/gatekit/internal/store"
	"github.com/gatekit/gatekit/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Open SQLite.
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// Initialize store.
	s, err := store.New(db)
	if err != nil {
		log.Fatalf("init store: %v", err)
	}

	// Load and publish the gate catalog. A server with no valid gates
	// cannot evaluate anything, so a bad catalog is fatal at startup.
	contracts, err := registry.LoadDir(cfg.GatesDir)
	if err != nil {
		log.Fatalf("load gates: %v", err)
	}
	if len(contracts) == 0 {
		log.Fatalf("no gate documents found in %s", cfg.GatesDir)
	}
	reg, err := registry.New(contracts)
	if err != nil {
		log.Fatalf("build registry: %v", err)
	}
	if _, ok := reg.GateForState(cfg.InitialState); !ok {
		log.Fatalf("no gate guards the initial state %s", cfg.InitialState)
	}
	log.Printf("loaded %d gate contracts from %s", reg.Len(), cfg.GatesDir)

	orch := engine.NewOrchestrator(reg, s, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot reload is opt-in; most deployments ship gates with the binary.
	if cfg.ReloadInterval > 0 {
		w := worker.New(cfg.GatesDir, reg, cfg.ReloadInterval)
		go w.Start(ctx)
	}

	srv := api.New(s, reg, orch, api.Options{
		InitialState: cfg.InitialState,
		CORSOrigin:   cfg.CORSOrigin,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("shutting down...")
		cancel()
		httpServer.Shutdown(context.Background())
	}()

	fmt.Printf("gatekit server listening on http://localhost:%s\n", cfg.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
