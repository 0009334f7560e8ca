package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/merged-fields/pkg/entityfields"
	"github.com/tendant/merged-fields/pkg/entityfields/api"
	"github.com/tendant/merged-fields/pkg/entityfields/config"
)

func main() {
	configFile := flag.String("config", "", "config file (YAML)")
	port := flag.String("port", "", "listen port (overrides config)")
	environment := flag.String("env", "", "development, production or testing (overrides config)")
	schema := flag.String("db-schema", "", "Postgres schema (overrides config)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		if usage, err := config.Usage(); err == nil {
			fmt.Fprintln(flag.CommandLine.Output(), usage)
		}
	}
	flag.Parse()

	// File first, environment overrides, flags win
	options := []config.Option{config.WithFile(*configFile), config.WithEnv()}
	if *port != "" {
		options = append(options, config.WithPort(*port))
	}
	if *environment != "" {
		options = append(options, config.WithEnvironment(*environment))
	}
	if *schema != "" {
		options = append(options, config.WithDatabaseSchema(*schema))
	}
	serverConfig, err := config.Load(options...)
	if err != nil {
		slog.Error("Failed to load server configuration", "error", err)
		os.Exit(1)
	}

	logger := serverConfig.Logger()
	slog.SetDefault(logger)

	var opts []entityfields.Option
	if serverConfig.Environment == "development" {
		opts = append(opts, entityfields.WithHooks(entityfields.LoggingHook(logger)))
	}

	rt, err := serverConfig.Build(context.Background(), opts...)
	if err != nil {
		slog.Error("Failed to build service", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	routerConfig := api.RouterConfig{
		Formatter: rt.Formatter,
		Fields:    api.FieldMap(rt.Fields),
		Store:     rt.Repository,
		Displays:  rt.Displays,

		CORSOrigins:  serverConfig.CORSOrigins,
		MaxBodyBytes: serverConfig.MaxBodyBytes,
	}
	if serverConfig.JWTSecret != "" {
		routerConfig.Auth = api.NewHS256Auth(serverConfig.JWTSecret)
	} else {
		slog.Warn("No JWT secret configured, all requests render as anonymous and admin routes are disabled")
		routerConfig.Store = nil
	}

	router := api.NewRouter(routerConfig)
	handler := middleware.Logger(middleware.Timeout(60 * time.Second)(router))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverConfig.Port),
		Handler: handler,
	}

	go func() {
		slog.Info("Merged fields server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"display_store", serverConfig.DisplayStore,
			"fields", len(rt.Fields))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exiting")
}
