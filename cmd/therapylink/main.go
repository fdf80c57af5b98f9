// therapylink keeps the settings of a CPAP/BIPAP therapy device in sync
// with the device over MQTT.
//
// Settings edits are encoded into the device's frame format, stored in a
// durable mailbox and delivered one at a time until the device
// acknowledges them. Frames the device reports are decoded back into the
// local settings file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/api"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/connection"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/controller"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/deadletter"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/delivery"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/config"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/database"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/influxdb"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/logging"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/mqtt"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/mailbox"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/metrics"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/settings"
	"github.com/MehulMathur2411/Cpap-Bipap/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when THERAPYLINK_CONFIG is not set.
	defaultConfigPath = "configs/config.yaml"

	// journalBuffer is how many delivery events may wait for the journal writer.
	journalBuffer = 256
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for a graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting therapylink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	machine, err := protocol.ParseMachineType(cfg.Device.MachineType)
	if err != nil {
		return err
	}
	codec, err := newCodec(cfg.Settings.LayoutFile)
	if err != nil {
		return fmt.Errorf("loading frame layouts: %w", err)
	}

	// Open database
	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Local state: pending deliveries and the settings file
	box, err := mailbox.Open(cfg.Delivery.MailboxPath, log.Component("mailbox"))
	if err != nil {
		return fmt.Errorf("opening mailbox: %w", err)
	}
	pending, err := box.Load()
	if err != nil {
		return fmt.Errorf("loading mailbox: %w", err)
	}
	log.Info("mailbox loaded", "path", box.Path(), "pending", len(pending))

	store, err := settings.Open(cfg.Settings.Path, log.Component("settings"))
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}

	// Broker session
	mqttClient, err := mqtt.New(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))

	manager := connection.NewManager(connection.Options{
		Transport: mqttClient,
		DataTopic: cfg.MQTT.Topics.Data,
		AckTopic:  cfg.MQTT.Topics.Ack,
		// #nosec G115 -- qos validated to 0..2 by config
		QoS:               byte(cfg.MQTT.QoS),
		Retry:             retryPolicy(cfg.MQTT.Reconnect),
		SubscribeAttempts: cfg.MQTT.Subscribe.Attempts,
		SubscribePause:    cfg.MQTT.Subscribe.Pause,
		Logger:            log.Component("connection"),
	})

	// Delivery queue, with dead letters and the event journal in SQLite
	policy, err := delivery.ParseTimeoutPolicy(cfg.Delivery.TimeoutPolicy)
	if err != nil {
		return err
	}
	journal := deadletter.NewJournal(db.DB, journalBuffer, log.Component("journal"))
	queue := delivery.New(delivery.Options{
		Store:           box,
		Publisher:       manager,
		Link:            manager,
		DeadLetters:     deadletter.NewSQLiteRepository(db.DB),
		AckTimeout:      cfg.Delivery.AckTimeout,
		PendingSendHold: cfg.Delivery.PendingSendHold,
		PollInterval:    cfg.Delivery.PollInterval,
		Policy:          policy,
		MaxAttempts:     cfg.Delivery.MaxAttempts,
		Logger:          log.Component("delivery"),
	})
	queue.AddObserver(journal)
	manager.SetAckHandler(queue.Ack)
	manager.AddObserver(connection.ObserverFuncs{Connectivity: queue.NotifyConnectivity})

	// Members are appended once the controller exists; nothing is
	// notified before the broker session starts.
	notifiers := controller.Notifiers{&logNotifier{log: log.Component("ui")}}
	ctrl, err := controller.New(controller.Options{
		Store:             store,
		Queue:             queue,
		Publisher:         manager,
		Codec:             codec,
		Machine:           machine,
		Serial:            cfg.Device.Serial,
		ResendSuppression: cfg.Settings.ResendSuppression,
		Notifier:          &notifiers,
		Logger:            log.Component("controller"),
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	manager.AddObserver(ctrl)

	if influxClient != nil {
		recorder := metrics.NewRecorder(influxClient, machine, ctrl.Serial)
		queue.AddObserver(recorder)
		notifiers = append(notifiers, recorder)
	}

	// Local control API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Controller:  ctrl,
			Settings:    store,
			Queue:       queue,
			Link:        manager,
			DeadLetters: deadletter.NewSQLiteRepository(db.DB),
			Journal:     journal,
			Machine:     machine,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		queue.AddObserver(server)
		notifiers = append(notifiers, server)
	} else {
		log.Info("API server disabled")
	}

	// The journal outlives the queue so it can record the final events.
	journalCtx, stopJournal := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		journal.Run(journalCtx)
	}()
	defer func() {
		stopJournal()
		wg.Wait()
		if dropped := journal.Dropped(); dropped > 0 {
			log.Warn("journal dropped delivery events", "count", dropped)
		}
	}()

	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("starting delivery queue: %w", err)
	}
	defer func() {
		log.Info("stopping delivery queue")
		queue.Stop()
	}()

	if cfg.Settings.SyncOnStart {
		queued, syncErr := ctrl.SyncAll(ctx)
		if syncErr != nil {
			return fmt.Errorf("queueing startup sync: %w", syncErr)
		}
		log.Info("startup sync", "queued", queued)
	}

	log.Info("initialisation complete, connecting to broker",
		"broker", cfg.MQTT.BrokerURL(),
		"client_id", cfg.MQTT.Broker.ClientID,
		"machine_type", machine,
	)

	// Run blocks until ctx is cancelled or connect retries run out.
	if err := manager.Run(ctx); err != nil {
		return fmt.Errorf("broker session: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Delivery queue
	// 2. Journal writer
	// 3. API server (if enabled)
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("therapylink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses THERAPYLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("THERAPYLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newCodec builds the frame codec, replacing built-in layouts with those
// in layoutFile when one is configured.
func newCodec(layoutFile string) (*protocol.Codec, error) {
	if layoutFile == "" {
		return protocol.DefaultCodec(), nil
	}
	layouts, err := protocol.LoadLayouts(layoutFile)
	if err != nil {
		return nil, err
	}
	return protocol.NewCodec(layouts...)
}

// retryPolicy picks fixed-delay retry unless a larger max delay asks for
// exponential backoff.
func retryPolicy(cfg config.MQTTReconnectConfig) connection.RetryPolicy {
	if cfg.MaxDelay > cfg.Delay {
		return connection.ExponentialBackoff{
			Initial:     cfg.Delay,
			Max:         cfg.MaxDelay,
			MaxAttempts: cfg.MaxAttempts,
		}
	}
	return connection.FixedDelay{Delay: cfg.Delay, MaxAttempts: cfg.MaxAttempts}
}

// healthCheck verifies the local database and, when enabled, InfluxDB.
// The broker is checked by the connection manager as it connects.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// logNotifier reports controller outcomes in the log.
type logNotifier struct {
	log *logging.Logger
}

// SettingsApplied implements controller.Notifier.
func (n *logNotifier) SettingsApplied(b protocol.Bundle) {
	n.log.Info("device settings applied", "modes", len(b))
}

// DecodeFailed implements controller.Notifier.
func (n *logNotifier) DecodeFailed(frame string, err error) {
	n.log.Warn("device frame rejected", "frame", frame, "error", err)
}

// ConnectivityChanged implements controller.Notifier.
func (n *logNotifier) ConnectivityChanged(connected bool) {
	n.log.Info("device link changed", "connected", connected)
}
