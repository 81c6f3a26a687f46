// Package main is the entry point for the herd weight dashboard server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fidde/herd_weight_dashboard/internal/api"
	"github.com/fidde/herd_weight_dashboard/internal/config"
	"github.com/fidde/herd_weight_dashboard/internal/ingestion"
	"github.com/fidde/herd_weight_dashboard/internal/mqttclient"
	"github.com/fidde/herd_weight_dashboard/internal/receiver"
	"github.com/fidde/herd_weight_dashboard/internal/records"
	"github.com/fidde/herd_weight_dashboard/internal/storage"
	"github.com/fidde/herd_weight_dashboard/internal/storage/snapshots"
	"github.com/fidde/herd_weight_dashboard/internal/suggest"
	"github.com/fidde/herd_weight_dashboard/internal/users"
)

func main() {
	configPath := flag.String("config", getEnv("DASH_CONFIG", ""), "path to YAML config file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Error reading .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		log.Fatalf("Reading environment: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	log.Println("Starting herd weight dashboard...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		log.Fatalf("Opening storage: %v", err)
	}

	recordStore, err := records.Open(ctx, backend, logger)
	if err != nil {
		log.Fatalf("Opening records: %v", err)
	}
	userStore, err := users.Open(ctx, backend, logger)
	if err != nil {
		log.Fatalf("Opening users: %v", err)
	}

	if cfg.Bootstrap.AdminPassword != "" {
		if _, err := userStore.EnsureAdmin(ctx, cfg.Bootstrap.AdminUsername, cfg.Bootstrap.AdminPassword); err != nil {
			log.Fatalf("Creating admin: %v", err)
		}
	} else if len(userStore.List()) == 0 {
		log.Println("No users and no admin password configured (DASH_ADMIN_PASSWORD); permissions cannot be managed")
	}

	if n := cfg.Storage.SeedDemoRecords; n > 0 {
		seeded, err := recordStore.SeedDemo(ctx, n, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), time.Now())
		if err != nil {
			log.Fatalf("Seeding demo records: %v", err)
		}
		if seeded > 0 {
			log.Printf("Seeded %d demo records", seeded)
		}
	}

	var snapshotStore *snapshots.Store
	if cfg.Snapshots.Enabled {
		snapshotStore, err = snapshots.New(cfg.Snapshots.Config)
		if err != nil {
			log.Fatalf("Opening snapshot store: %v", err)
		}
	}

	apiServer := api.NewServer(api.Config{
		Addr:            cfg.Server.Addr,
		Records:         recordStore,
		Users:           userStore,
		Suggestions:     suggest.NewClient(cfg.Suggestions, logger),
		DefaultPageSize: cfg.Query.DefaultPageSize,
		Logger:          logger,
		Snapshots:       snapshotStore,
	})

	errChan := make(chan error, 4)

	var httpReceiver *receiver.HTTPReceiver
	if cfg.OTLP.HTTPAddr != "" {
		httpReceiver = receiver.NewHTTPReceiver(cfg.OTLP.HTTPAddr, recordStore, logger)
		go func() {
			log.Printf("Starting OTLP HTTP receiver on %s", cfg.OTLP.HTTPAddr)
			if err := httpReceiver.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("OTLP HTTP receiver error: %w", err)
			}
		}()
	}

	var grpcReceiver *receiver.GRPCReceiver
	if cfg.OTLP.GRPCAddr != "" {
		grpcReceiver = receiver.NewGRPCReceiver(cfg.OTLP.GRPCAddr, recordStore, logger)
		go func() {
			log.Printf("Starting OTLP gRPC receiver on %s", cfg.OTLP.GRPCAddr)
			if err := grpcReceiver.Start(); err != nil {
				errChan <- fmt.Errorf("OTLP gRPC receiver error: %w", err)
			}
		}()
	}

	var (
		mqttClient *mqttclient.Client
		ingest     *ingestion.Service
	)
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqttclient.New(mqttclient.Options{
			BrokerURL: cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
		})
		if err != nil {
			log.Fatalf("Connecting to MQTT broker: %v", err)
		}
		ingest = ingestion.New(mqttClient, recordStore, ingestion.Config{
			Topic: cfg.MQTT.Topic,
			QoS:   cfg.MQTT.QoS,
		}, logger)
		if err := ingest.Start(ctx); err != nil {
			log.Fatalf("Starting MQTT ingestion: %v", err)
		}
		log.Printf("Ingesting readings from %s on %s", mqttClient, cfg.MQTT.Topic)
	}

	if pprofAddr := getEnv("PPROF_ADDR", ""); pprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s/debug/pprof", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	go func() {
		log.Printf("Starting REST API server on %s", cfg.Server.Addr)
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	log.Println("API endpoints:")
	log.Printf("  - Records: http://%s/data", cfg.Server.Addr)
	log.Printf("  - Devices: http://%s/devices", cfg.Server.Addr)
	log.Printf("  - Users: http://%s/users", cfg.Server.Addr)
	log.Printf("  - Search: http://%s/search", cfg.Server.Addr)
	log.Printf("  - Suggestions: http://%s/suggestions", cfg.Server.Addr)
	if snapshotStore != nil {
		log.Printf("  - Snapshots: http://%s/snapshots", cfg.Server.Addr)
	}
	log.Printf("  - Health: http://%s/health", cfg.Server.Addr)
	log.Printf("  - Metrics: http://%s/metrics", cfg.Server.Addr)

	select {
	case err := <-errChan:
		log.Printf("Server error: %v", err)
	case <-ctx.Done():
		log.Println("Received shutdown signal, shutting down...")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Println("Shutting down servers...")
	if ingest != nil {
		if err := ingest.Stop(); err != nil {
			log.Printf("Error stopping MQTT ingestion: %v", err)
		}
		mqttClient.Close()
	}
	if httpReceiver != nil {
		if err := httpReceiver.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down OTLP HTTP receiver: %v", err)
		}
	}
	if grpcReceiver != nil {
		if err := grpcReceiver.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down OTLP gRPC receiver: %v", err)
		}
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Closing storage...")
	if err := recordStore.Close(); err != nil {
		log.Printf("Error closing records: %v", err)
	}
	if err := userStore.Close(); err != nil {
		log.Printf("Error closing users: %v", err)
	}
	if err := backend.Close(); err != nil {
		log.Printf("Error closing storage backend: %v", err)
	}

	log.Println("Shutdown complete")
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
