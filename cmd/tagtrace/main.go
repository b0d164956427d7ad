// TagTrace Core - Retail Asset Tracking Engine
//
// This is the main entry point for the TagTrace Core application.
// TagTrace runs on-site in a retail store and provides:
//   - Gateway and tag lifecycle management
//   - Telemetry ingestion with battery and theft detection
//   - RSSI zone calibration for portal gateways
//   - Inventory reconciliation against the product catalog
//   - An append-only audit trail of operator actions
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tagtrace/tagtrace-core/migrations"

	"github.com/tagtrace/tagtrace-core/internal/api"
	"github.com/tagtrace/tagtrace-core/internal/audit"
	"github.com/tagtrace/tagtrace-core/internal/calibration"
	"github.com/tagtrace/tagtrace-core/internal/checkout"
	"github.com/tagtrace/tagtrace-core/internal/event"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/config"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/database"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/influxdb"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/logging"
	"github.com/tagtrace/tagtrace-core/internal/infrastructure/mqtt"
	"github.com/tagtrace/tagtrace-core/internal/ingest"
	"github.com/tagtrace/tagtrace-core/internal/inventory"
	"github.com/tagtrace/tagtrace-core/internal/registry"
	"github.com/tagtrace/tagtrace-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,maintidx // wiring sequence reads top to bottom
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting TagTrace Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "store", cfg.Store.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	auditRepo := audit.NewSQLiteRepository(db.DB)
	telemetryRepo := telemetry.NewSQLiteRepository(db.DB)
	eventRepo := event.NewSQLiteRepository(db.DB)

	// Product catalog: HTTP client against the retailer's service, or an
	// in-memory catalog when no URL is configured (development only).
	var catalog inventory.Catalog
	if cfg.Catalog.URL != "" {
		catalog = inventory.NewHTTPCatalog(cfg.Catalog)
		log.Info("catalog client initialised", "url", cfg.Catalog.URL)
	} else {
		catalog = inventory.NewMemoryCatalog()
		log.Warn("no catalog URL configured, using in-memory catalog")
	}

	// Registry service (gateway + tag lifecycle)
	reg := registry.NewService(cfg.Store.ID,
		registry.NewSQLiteGatewayRepository(db.DB),
		registry.NewSQLiteTagRepository(db.DB),
		catalog, auditRepo, log)
	log.Info("registry initialised", "store", cfg.Store.ID)

	// Checkout lookup chain: Redis (POS-fed) first when enabled, the
	// local event store as fallback.
	var lookups []checkout.Lookup
	if cfg.Redis.Enabled {
		redisLookup, redisErr := checkout.NewRedisLookup(cfg.Redis)
		if redisErr != nil {
			return fmt.Errorf("connecting to Redis: %w", redisErr)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisLookup.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		lookups = append(lookups, redisLookup)
		log.Info("Redis checkout lookup connected", "addr", cfg.Redis.Addr)
	}
	lookups = append(lookups, checkout.NewEventLookup(eventRepo, cfg.GetCheckoutWindow()))
	checkoutChain := checkout.NewChain(cfg.GetCheckoutTimeout(), lookups...)

	// Ingestion pipeline
	pipeline := ingest.NewPipeline(cfg.Store.ID, cfg.Detection, reg,
		telemetryRepo, eventRepo, checkoutChain, log)

	// Connect to InfluxDB (optional telemetry mirror)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		pipeline.SetMirror(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Calibration engine and health aggregation
	calEngine := calibration.NewEngine(reg, telemetryRepo, eventRepo, log)
	healthEngine := event.NewHealthEngine(cfg.Store.ID, reg.Gateways(), reg.Tags(),
		eventRepo, cfg.Detection.BatteryLowThreshold, cfg.GetStaleTagAge())

	// Inventory reconciliation
	inventoryService := inventory.NewService(cfg.Store.ID, catalog, reg.Tags(),
		eventRepo, auditRepo, log)

	// API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Registry:    reg,
		Pipeline:    pipeline,
		Calibration: calEngine,
		Events:      eventRepo,
		Health:      healthEngine,
		Telemetry:   telemetryRepo,
		Inventory:   inventoryService,
		Audit:       auditRepo,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Detection events reach dashboards through the WebSocket hub
	pipeline.SetNotifier(apiServer.NotifyEvent)

	// Connect to MQTT broker and start the ingestion bridge (optional:
	// stores with HTTP-only gateways run without a broker)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge := ingest.NewBridge(cfg.Store.ID, pipeline, mqttClient, reg, eventRepo, log)
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		log.Info("MQTT ingestion bridge started")
	} else {
		log.Info("MQTT disabled, gateways must use the HTTP ingest endpoint")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. MQTT (if enabled)
	// 2. API server
	// 3. InfluxDB (if enabled)
	// 4. Redis (if enabled)
	// 5. Database

	log.Info("TagTrace Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TAGTRACE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TAGTRACE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
