package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mwexplorer/chainstate/internal/api"
	"github.com/mwexplorer/chainstate/internal/api/websocket"
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
	util.Info("starting chainstate API server")

	apiConfig := api.NewConfig()

	dbConfig, err := db.NewConfig()
	if err != nil {
		util.Error("failed to load database configuration", "error", err.Error())
		os.Exit(1)
	}
	if dbConfig.MaxConns > 10 {
		dbConfig.MaxConns = 10
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbConfig, util.GlobalLogger)
	if err != nil {
		util.Error("failed to connect to database", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()
	util.Info("database connection pool established", "max_conns", dbConfig.MaxConns)

	st := store.NewStore(pool)
	engine := ingest.NewEngine(st)
	supervisor := ingest.NewSupervisor(engine)

	hub := websocket.NewHub()
	engine.SetEventSink(hub)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)
	util.Info("websocket hub started")

	server := api.NewServer(st, engine, supervisor, apiConfig, hub)

	httpServer := &http.Server{
		Addr:         apiConfig.Address(),
		Handler:      server.Router(),
		ReadTimeout:  apiConfig.ReadTimeout,
		WriteTimeout: apiConfig.WriteTimeout,
		IdleTimeout:  apiConfig.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		util.Info("API server listening", "address", httpServer.Addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		util.Info("received shutdown signal", "signal", sig.String())
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			util.Error("server error", "error", err.Error())
		}
	}

	util.Info("shutting down API server gracefully", "timeout_seconds", apiConfig.ShutdownTimeout.Seconds())

	supervisor.Shutdown()
	hubCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), apiConfig.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		util.Error("error during server shutdown", "error", err.Error())
		if err := httpServer.Close(); err != nil {
			util.Error("error forcing server close", "error", err.Error())
		}
	}

	util.Info("API server shutdown complete")
}
