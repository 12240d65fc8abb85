package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mwexplorer/chainstate/internal/db"
	"github.com/mwexplorer/chainstate/internal/ingest"
	"github.com/mwexplorer/chainstate/internal/store"
	"github.com/mwexplorer/chainstate/internal/util"
)

func main() {
	if err := util.Init(); err != nil {
		util.Error("failed to initialize metrics", "error", err.Error())
		os.Exit(1)
	}
	util.Info("starting chainstate worker")

	dbConfig, err := db.NewConfig()
	if err != nil {
		util.Error("failed to load database configuration", "error", err.Error())
		os.Exit(1)
	}

	if err := db.RunMigrations(dbConfig, migrationsPath(), util.GlobalLogger); err != nil {
		util.Error("failed to run migrations", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := db.NewPool(ctx, dbConfig, util.GlobalLogger)
	if err != nil {
		util.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	st := store.NewStore(pool)
	engine := ingest.NewEngine(st)
	supervisor := ingest.NewSupervisor(engine)
	scheduler := ingest.NewScheduler(st, engine)

	go func() {
		if err := util.StartMetricsServer(); err != nil {
			util.Error("metrics server failed", "error", err.Error())
		}
	}()

	go scheduler.Run(ctx)

	util.Info("worker started, waiting for signals")
	<-ctx.Done()
	util.Info("received shutdown signal")

	supervisor.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	<-shutdownCtx.Done()

	util.Info("worker shutdown complete")
}

func migrationsPath() string {
	if p := os.Getenv("MIGRATIONS_PATH"); p != "" {
		return p
	}
	return "migrations"
}
