package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"permgate.org/internal/authn"
	"permgate.org/internal/config"
	"permgate.org/internal/engine"
	"permgate.org/internal/httpapi"
	"permgate.org/internal/obs"
	"permgate.org/internal/store"
	"permgate.org/internal/store/file"
	"permgate.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("PERMGATE_CONFIG"), "Path to YAML config")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		st    store.Store
		probe httpapi.ReadyProbe
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open pg store: %v", err)
		}
		st = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		fileStore, err := file.Open(cfg.DataDir, file.WithBackups(cfg.Backups))
		if err != nil {
			log.Fatalf("open file store: %v", err)
		}
		st = fileStore
	}

	eng := engine.New(cfg, st)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Load(loadCtx); err != nil {
		log.Fatalf("load worlds: %v", err)
	}
	cancelLoad()
	eng.Start()

	verifier := authn.NewVerifier(cfg.AuthSecret, "permgate")
	api := httpapi.New(probe, version, eng, verifier)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting permgate-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
	if err := eng.Stop(ctx); err != nil {
		log.Printf("final save: %v", err)
	}
	_ = st.Close()
	log.Println("Stopped")
}
