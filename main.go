package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskboard-project/microservices/api-service/config"
	"taskboard-project/microservices/api-service/handlers"
	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/repositories"
	"taskboard-project/microservices/api-service/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger.Fatalf("Event ID: CONFIG_ERROR, Description: %v", err)
	}
	logging.InitLogger(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	logging.Logger.Info("Event ID: SERVICE_START, Description: Starting Task API...")

	store, err := openStore(cfg)
	if err != nil {
		logging.Logger.Fatalf("Event ID: DB_CONNECTION_FAILED, Description: %v", err)
	}

	taskHandler := handlers.NewTaskHandler(services.NewTaskService(store))
	userHandler := handlers.NewUserHandler(services.NewUserService(store))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(taskHandler, userHandler, cfg.Server.CORSOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Logger.Infof("Event ID: SERVER_START_INFO, Description: Server running on http://localhost%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatalf("Event ID: SERVER_FATAL_ERROR, Description: Server failed to start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	logging.Logger.Infof("Event ID: SERVER_SHUTDOWN, Description: Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Logger.Errorf("Event ID: SERVER_SHUTDOWN_FAILED, Description: %v", err)
	}
	if err := store.Close(ctx); err != nil {
		logging.Logger.Errorf("Event ID: DB_DISCONNECT_FAILED, Description: %v", err)
	}
	logging.Logger.Info("Event ID: SERVICE_STOPPED, Description: Task API stopped")
}

func openStore(cfg *config.Config) (repositories.Store, error) {
	if cfg.Store.Driver == "memory" {
		return repositories.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
	defer cancel()

	breaker := repositories.NewBreaker("mongo-store", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	store, err := repositories.NewMongoStore(ctx, repositories.MongoConfig{
		URI:             cfg.Mongo.URI,
		Database:        cfg.Mongo.DBName,
		TasksCollection: cfg.Mongo.TasksCollection,
		UsersCollection: cfg.Mongo.UsersCollection,
		Transactions:    cfg.Mongo.Transactions,
		Timeout:         cfg.Mongo.Timeout,
	}, breaker)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return store, nil
}
