package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/macroforge-core/internal/api"
	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/logging"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/mqtt"
)

// shutdownTimeout bounds how long in-flight runs get to wind down.
const shutdownTimeout = 10 * time.Second

// mqttFlushTimeout bounds how long queued status events get to reach the
// broker at shutdown.
const mqttFlushTimeout = 2 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MacroForge service",
		Long: `Start the long-running service: connect to the device, start the
configured background actions and expose the REST/WebSocket API and the
MQTT status and command topics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actions, _ := cmd.Flags().GetString("background")
			return runServe(cmd.Context(), cmd, actions)
		},
	}
	cmd.Flags().String("background", "", "background.yaml with actions to start")
	return cmd
}

// runServe is the service lifecycle, separated from the command for testability.
func runServe(ctx context.Context, cmd *cobra.Command, actionsPath string) error {
	log := logging.Default()
	log.Info("starting MacroForge Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	c, err := newCore(ctx, cfg, log, coreOptions{})
	if err != nil {
		return err
	}
	defer c.Close()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var sink *events.MQTTSink
		mqttClient, sink, err = connectMQTT(c, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			flushCtx, cancel := context.WithTimeout(context.Background(), mqttFlushTimeout)
			if flushErr := sink.Close(flushCtx); flushErr != nil {
				log.Warn("MQTT status queue not drained", "error", flushErr, "dropped", sink.Dropped())
			}
			cancel()
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	if actionsPath != "" {
		if err := startBackground(ctx, c, actionsPath); err != nil {
			return err
		}
	}

	var srv *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Engine:     c.engine,
			Registry:   c.registry,
			Scheduler:  c.scheduler,
			Sequencer:  c.sequencer,
			Controller: c.controller,
			Bus:        c.bus,
			Runs:       c.repo,
			Queues:     c.queueStore,
			DB:         c.db.DB,
			Version:    version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		srv, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled: security.jwt.secret is empty")
		}
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, c, mqttClient, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, MQTT, then the core (stop all
	// activity, adb server, InfluxDB, database).
	return nil
}

// connectMQTT connects to the broker, mirrors the status stream onto it and
// subscribes to the command topics.
func connectMQTT(c *core, log *logging.Logger) (*mqtt.Client, *events.MQTTSink, error) {
	cfg := c.cfg.MQTT
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	qos := byte(cfg.QoS)
	sink := events.NewMQTTSink(client, qos, log.Component("mqtt"))
	c.bus.AddSink(sink)
	if err := events.SubscribeCommands(client, qos, c.controller); err != nil {
		sink.Close(context.Background()) //nolint:errcheck // error path
		client.Close()                   //nolint:errcheck // error path
		return nil, nil, fmt.Errorf("subscribing to MQTT commands: %w", err)
	}
	return client, sink, nil
}

// startBackground starts every enabled action of the set at path.
func startBackground(ctx context.Context, c *core, path string) error {
	set, err := background.LoadActionSet(path)
	if err != nil {
		return fmt.Errorf("loading background actions: %w", err)
	}
	for _, a := range set.Enabled() {
		if err := c.scheduler.Start(ctx, a); err != nil {
			return fmt.Errorf("starting background action %s: %w", a.Name, err)
		}
	}
	c.log.Info("background actions started", "set", set.Name, "count", len(set.Enabled()))
	return nil
}

// healthCheck verifies every connection concurrently and returns the first
// failure.
func healthCheck(ctx context.Context, c *core, mqttClient *mqtt.Client, srv *api.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.healthCheck(gctx) })
	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}
	if srv != nil {
		g.Go(func() error {
			if err := srv.HealthCheck(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
