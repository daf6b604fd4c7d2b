package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/admin"
	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/coordinator"
	"github.com/burrowdb/burrow/db"
	"github.com/burrowdb/burrow/protocol"
	"github.com/burrowdb/burrow/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("agent_id", cfg.Config.AgentID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Burrow - Embedded Graph Database Coordinator")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	// Open the database session
	sessions := db.NewSessionManager(db.SQLiteDriver{})
	session, err := sessions.Get(cfg.Config.Database.Path, cfg.Config.Database.ReadOnly)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Config.Database.Path).Msg("Failed to open database")
		return
	}
	defer sessions.Shutdown()

	// Wire the execution pipeline
	classifier, err := protocol.NewClassifier(cfg.Config.Execution.ClassifierCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize statement classifier")
		return
	}

	coord := coordinator.NewCoordinator(session, classifier, cfg.DatabaseDir(), cfg.Config.AgentID)

	log.Info().
		Str("agent_id", cfg.Config.AgentID).
		Str("path", cfg.Config.Database.Path).
		Bool("read_only", cfg.Config.Database.ReadOnly).
		Bool("multi_agent", cfg.Config.Execution.MultiAgent).
		Msg("Coordinator initialized")

	if !cfg.Config.HTTP.Enabled {
		log.Info().Msg("HTTP surface disabled - nothing to serve, exiting")
		return
	}

	handlers := admin.NewHandlers(coord, session)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Config.HTTP.BindAddress, cfg.Config.HTTP.Port),
		Handler: admin.NewRouter(handlers),
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
}
