// Gray Logic Lutron Bridge
//
// lutronbridge keeps persistent connections to Lutron hubs (RadioRA 2 and
// HomeWorks QS over LIP, Caséta and RA3 over LEAP) and mirrors their
// traffic onto the Gray Logic MQTT bus.
//
// Usage:
//
//	lutronbridge                                   run the service
//	lutronbridge token -subject NAME -role ROLE    print an API token
//	lutronbridge migrate [status|up|down]          manage the recorder schema
//
// The configuration file is read from GRAYLOGIC_LUTRON_CONFIG, or
// configs/config.yaml when unset. SIGHUP reloads it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-lutron/internal/api"
	"github.com/nerrad567/gray-logic-lutron/internal/bridges/lutron"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lutron/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lutron/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "GRAYLOGIC_LUTRON_CONFIG"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches to a subcommand. With no arguments it runs the service.
func run(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "token":
			return runToken(args[1:], os.Stdout)
		case "migrate":
			return runMigrate(ctx, args[1:], os.Stdout)
		case "version":
			fmt.Printf("lutronbridge %s (commit %s, built %s)\n", version, commit, date)
			return nil
		default:
			return fmt.Errorf("unknown command %q", args[0])
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	return runService(ctx, hup)
}

// runService starts every component and blocks until ctx is cancelled.
// Each value received on reload triggers a configuration reload.
func runService(ctx context.Context, reload <-chan os.Signal) error {
	log := logging.Default()
	log.Info("starting Gray Logic Lutron bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "bridges", len(cfg.Bridges))

	log = logging.New(cfg.Logging, version)

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
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	recorder := lutron.NewRecorder(db.DB, log)
	if startErr := recorder.Start(); startErr != nil {
		return fmt.Errorf("starting recorder: %w", startErr)
	}
	defer recorder.Stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := lutron.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Will{})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
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

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, map[string]string{"site": cfg.Site.ID})
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	svc := newService(serviceDeps{
		Logger:   log,
		Metrics:  metrics,
		MQTT:     mqttClient,
		Influx:   influxClient,
		Recorder: recorder,
		Health:   cfg.GetHealthInterval(),
	})

	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Bridges:  svc,
			History:  recorder,
			Gatherer: registry,
			Levels:   log,
			MQTT:     mqttClient,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		svc.addObserver(srv.Hub())
	} else {
		log.Info("API disabled")
	}

	if err := svc.apply(ctx, cfg.Bridges); err != nil {
		svc.closeAll()
		return fmt.Errorf("starting bridges: %w", err)
	}
	defer svc.closeAll()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		case <-reload:
			reloadConfig(ctx, configPath, log, svc)
		}
	}
}

// reloadConfig re-reads the configuration file and applies the log level
// and bridge changes. Other sections need a restart. A bad file leaves
// the running configuration untouched.
func reloadConfig(ctx context.Context, path string, log *logging.Logger, svc *service) {
	log.Info("reloading configuration", "path", path)
	cfg, err := config.Load(path)
	if err != nil {
		log.Error("configuration reload failed", "error", err)
		return
	}
	log.SetLevel(cfg.Logging.Level)
	if err := svc.apply(ctx, cfg.Bridges); err != nil {
		log.Error("applying bridge configuration failed", "error", err)
		return
	}
	log.Info("configuration reloaded", "bridges", len(cfg.Bridges))
}

// getConfigPath returns GRAYLOGIC_LUTRON_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. Hub connections are
// not checked; they reconnect on their own and report through status.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
