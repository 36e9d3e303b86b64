// Timeline Conductor
//
// This is the main entry point of the conductor service. It resolves a
// timeline of timed objects continuously and drives the mapped playout
// devices so their physical state follows the timeline.
//
// Usage:
//
//	conductor --config configs/config.yaml [--env-file .env] [--migrate-down]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/conductor/migrations"

	"github.com/nerrad567/conductor/internal/api"
	"github.com/nerrad567/conductor/internal/conductor"
	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/devices/abstract"
	"github.com/nerrad567/conductor/internal/devices/mqttbridge"
	"github.com/nerrad567/conductor/internal/infrastructure/config"
	"github.com/nerrad567/conductor/internal/infrastructure/database"
	"github.com/nerrad567/conductor/internal/infrastructure/influxdb"
	"github.com/nerrad567/conductor/internal/infrastructure/logging"
	"github.com/nerrad567/conductor/internal/infrastructure/metrics"
	"github.com/nerrad567/conductor/internal/infrastructure/mqtt"
	"github.com/nerrad567/conductor/internal/store"
	"github.com/nerrad567/conductor/internal/timelinefile"
	"github.com/nerrad567/conductor/internal/worker"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Defaults for command-line flags.
const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
)

// shutdownTimeout bounds device termination on exit.
const shutdownTimeout = 10 * time.Second

// retentionInterval is how often the command log is pruned.
const retentionInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command-line flags.
type options struct {
	configPath  string
	envFile     string
	envRequired bool
	showVersion bool
	migrateDown bool
}

// parseFlags parses args. The config path defaults to CONDUCTOR_CONFIG
// when set.
func parseFlags(args []string) (options, error) {
	var opts options

	defaultPath := defaultConfigPath
	if path := os.Getenv("CONDUCTOR_CONFIG"); path != "" {
		defaultPath = path
	}

	fs := pflag.NewFlagSet("conductor", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&opts.configPath, "config", "c", defaultPath, "path to the YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", defaultEnvFile, "optional .env file with secrets")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	fs.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the latest database migration and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.envRequired = fs.Changed("env-file")
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, args []string, stdout io.Writer) error { //nolint:gocognit,gocyclo // startup wiring
	opts, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "conductor %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	if err := config.LoadEnvFile(opts.envFile, opts.envRequired); err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting conductor",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, cfg.Service.ID, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"level", cfg.Logging.Level,
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
	if opts.migrateDown {
		return rollbackMigration(ctx, db, stdout)
	}
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, _, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "migrations", len(applied))

	timelineStore := store.New(db.DB)
	timelineStore.SetLogger(log.Component("store"))
	if hours := cfg.Database.CommandLogRetentionHours; hours > 0 {
		go timelineStore.RunRetention(ctx, time.Duration(hours)*time.Hour, retentionInterval)
	}

	checks := map[string]api.HealthChecker{"database": db}

	// Prometheus metrics (optional)
	var promMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New(cfg.Metrics.Namespace)
	}

	// Connect to InfluxDB (optional)
	var telemetry conductor.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		telemetry = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device factories
	registry := device.NewRegistry()
	registry.SetLogger(log.Component("devices"))
	if regErr := registry.Register(abstract.DeviceType, abstract.Factory); regErr != nil {
		return regErr
	}

	// Connect to MQTT broker (optional; bridge devices need it)
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
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		if regErr := registry.Register(mqttbridge.DeviceType, mqttbridge.NewFactory(mqttClient)); regErr != nil {
			return regErr
		}
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	c := conductor.New(conductorOptions(cfg, registry, log, promMetrics, telemetry))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping conductor")
		if closeErr := c.Close(closeCtx); closeErr != nil {
			log.Error("error stopping conductor", "error", closeErr)
		}
	}()

	detach := timelineStore.Attach(ctx, c.Events(), c)
	defer detach()

	if mqttClient != nil {
		stopForwarding := forwardEvents(c.Events(), mqttClient, log)
		defer stopForwarding()
	}

	// Load the timeline: the file wins over the stored copy.
	var watcher *timelinefile.Watcher
	if cfg.Timeline.File != "" {
		watcher = timelinefile.NewWatcher(cfg.Timeline.File, config.Millis(cfg.Timeline.DebounceMs), timelineStore, c)
		watcher.SetLogger(log.Component("timelinefile"))
		if importErr := watcher.Import(ctx); importErr != nil {
			return fmt.Errorf("importing timeline file: %w", importErr)
		}
	} else if loadErr := loadStoredTimeline(ctx, timelineStore, c); loadErr != nil {
		return loadErr
	}

	for _, dc := range cfg.Devices {
		id, addErr := c.AddDevice(ctx, device.Options{
			ID:       dc.ID,
			Type:     dc.Type,
			Isolated: dc.Isolated,
			Settings: dc.Options,
		})
		if addErr != nil {
			return fmt.Errorf("adding device %s: %w", dc.ID, addErr)
		}
		log.Info("device configured", "device_id", id, "type", dc.Type)
	}

	if startErr := c.Start(ctx); startErr != nil {
		return fmt.Errorf("starting conductor: %w", startErr)
	}

	if watcher != nil && cfg.Timeline.Watch {
		go func() {
			if watchErr := watcher.Run(ctx); watchErr != nil && !errors.Is(watchErr, context.Canceled) {
				log.Error("timeline file watcher stopped", "error", watchErr)
			}
		}()
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.Component("api"),
		Conductor: c,
		Store:     timelineStore,
		Metrics:   promMetrics,
		Checks:    checks,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"devices", len(cfg.Devices),
		"api", server.Addr().String(),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, conductor
	// and its devices, event forwarding, MQTT, InfluxDB, database.
	return nil
}

// conductorOptions translates configuration into conductor options.
func conductorOptions(cfg *config.Config, registry *device.Registry, log *logging.Logger, m *metrics.Metrics, telemetry conductor.Telemetry) conductor.Options {
	sc := cfg.Scheduler
	opts := conductor.Options{
		Factories:          registry,
		Logger:             log.Component("conductor"),
		Telemetry:          telemetry,
		Isolated:           sc.IsolateDevices,
		MinResolveTime:     config.Millis(sc.MinResolveMs),
		MaxResolveTime:     config.Millis(sc.MaxResolveMs),
		ResolveWeight:      sc.ResolveWeight,
		LookaheadHorizon:   config.Millis(sc.LookaheadHorizonMs),
		MaxLookaheadStates: sc.MaxLookaheadStates,
		TickInterval:       config.Millis(sc.TickIntervalMs),
		Worker: worker.Config{
			RestartOnFailure:   sc.Worker.RestartOnFailure,
			RestartDelay:       time.Duration(sc.Worker.RestartDelaySeconds) * time.Second,
			MaxRestartAttempts: sc.Worker.MaxRestartAttempts,
			CallTimeout:        time.Duration(sc.Worker.CallTimeoutSeconds) * time.Second,
		},
	}
	// A nil *metrics.Metrics must not become a non-nil interface.
	if m != nil {
		opts.Metrics = m
	}
	return opts
}

// rollbackMigration undoes the most recently applied migration and reports
// what remains.
func rollbackMigration(ctx context.Context, db *database.DB, stdout io.Writer) error {
	if err := db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	fmt.Fprintf(stdout, "rolled back: %d applied, %d pending\n", len(applied), len(pending))
	return nil
}

// loadStoredTimeline pushes the persisted timeline to the conductor.
func loadStoredTimeline(ctx context.Context, s *store.Store, c *conductor.Conductor) error {
	objects, err := s.Timeline(ctx)
	if err != nil {
		return fmt.Errorf("loading stored timeline: %w", err)
	}
	mappings, err := s.Mappings(ctx)
	if err != nil {
		return fmt.Errorf("loading stored mappings: %w", err)
	}
	c.SetTimelineAndMappings(objects, mappings)
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, checker := range checks {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
