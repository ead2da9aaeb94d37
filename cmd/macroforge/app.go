package main

import (
	"context"
	"fmt"

	_ "github.com/nerrad567/macroforge-core/migrations"

	"github.com/nerrad567/macroforge-core/internal/adbd"
	"github.com/nerrad567/macroforge-core/internal/background"
	"github.com/nerrad567/macroforge-core/internal/controller"
	"github.com/nerrad567/macroforge-core/internal/device"
	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/humanize"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/database"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/logging"
	"github.com/nerrad567/macroforge-core/internal/macro"
	"github.com/nerrad567/macroforge-core/internal/matcher"
	"github.com/nerrad567/macroforge-core/internal/queue"
)

// core is the wired execution stack shared by serve, run, queue and mcp.
type core struct {
	cfg *config.Config
	log *logging.Logger

	db       *database.DB
	adbd     *adbd.Manager
	adb      *device.ADB
	influx   *influxdb.Client
	bus      *events.Bus
	repo     *macro.SQLiteRepository
	registry *macro.Registry

	engine     *macro.Engine
	scheduler  *background.Scheduler
	queueStore *queue.SQLiteStore
	sequencer  *queue.Sequencer
	controller *controller.Controller

	closers []func()
}

// coreOptions selects optional parts of the stack.
type coreOptions struct {
	// gateway replaces the adb gateway. Used by tests.
	gateway device.Gateway

	// scriptsDir overrides engine.scripts_dir for queue file references.
	scriptsDir string
}

// newCore opens the database, attaches to the device and builds the engine,
// scheduler, sequencer and controller on top. On error everything opened so
// far is closed.
func newCore(ctx context.Context, cfg *config.Config, log *logging.Logger, opts coreOptions) (*core, error) {
	c := &core{cfg: cfg, log: log, bus: events.NewBus()}
	ready := false
	defer func() {
		if !ready {
			c.Close()
		}
	}()
	c.bus.SetLogger(log.Component("events"))

	var err error
	c.db, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	c.onClose(func() {
		log.Info("closing database")
		if closeErr := c.db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	})
	if err = c.db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	c.repo = macro.NewSQLiteRepository(c.db.DB)
	c.registry = macro.NewRegistry(c.repo)
	c.registry.SetLogger(log.Component("registry"))
	if err = c.registry.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading script registry: %w", err)
	}
	log.Info("script registry loaded", "scripts", c.registry.Count())

	if cfg.InfluxDB.Enabled {
		c.influx, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		c.influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		c.onClose(func() {
			log.Info("closing InfluxDB connection")
			if closeErr := c.influx.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	gateway := opts.gateway
	if gateway == nil {
		if gateway, err = c.attachDevice(ctx); err != nil {
			return nil, err
		}
	}
	gated := device.NewGated(gateway, device.NewGate())

	m := matcher.New(cfg.Matching)
	h, err := humanize.New(cfg.Humanizer)
	if err != nil {
		return nil, fmt.Errorf("creating humanizer: %w", err)
	}

	c.engine = macro.NewEngine(cfg.Engine, gated, m, h, log.Component("engine"))
	c.engine.SetRunStore(c.repo)
	c.engine.SetPublisher(c.bus)

	c.scheduler = background.New(c.engine, h, log.Component("background"))
	c.scheduler.SetPublisher(c.bus)

	c.queueStore = queue.NewSQLiteStore(c.db.DB)
	resolver := queue.FileResolver{BaseDir: cfg.Engine.ScriptsDir, Fallback: c.registry}
	if opts.scriptsDir != "" {
		resolver.BaseDir = opts.scriptsDir
	}
	c.sequencer = queue.NewSequencer(c.engine, resolver, cfg.Queue, log.Component("queue"))
	c.sequencer.SetStore(c.queueStore)
	c.sequencer.SetPublisher(c.bus)

	if c.influx != nil {
		m.SetMetrics(c.influx)
		c.engine.SetMetrics(c.influx)
		c.scheduler.SetMetrics(c.influx)
	}

	c.controller = controller.New(c.engine, c.scheduler, c.sequencer, log.Component("controller"))
	c.onClose(func() {
		log.Info("stopping all activity")
		c.controller.StopAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := c.engine.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warn("runs did not finish before shutdown", "error", shutdownErr)
		}
	})

	ready = true
	return c, nil
}

// attachDevice starts the managed adb server (when configured) and connects
// the adb gateway.
func (c *core) attachDevice(ctx context.Context) (device.Gateway, error) {
	manager, err := adbd.NewManager(c.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("creating adb server manager: %w", err)
	}
	manager.SetLogger(c.log.Component("adbd"))
	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting adb server: %w", err)
	}
	c.adbd = manager
	c.onClose(func() {
		if stopErr := manager.Stop(); stopErr != nil {
			c.log.Error("error stopping adb server", "error", stopErr)
		}
	})

	opts := []device.Option{device.WithLogger(c.log.Component("device"))}
	if manager.IsManaged() {
		opts = append(opts, device.WithServerPort(c.cfg.Device.ManagedServer.Port))
	}
	c.adb = device.NewADB(c.cfg.Device, opts...)
	if err := c.adb.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to device %s: %w", c.adb.Serial(), err)
	}
	c.log.Info("device connected", "serial", c.adb.Serial(), "managed_server", manager.IsManaged())
	return c.adb, nil
}

// healthCheck verifies the database, adb server and InfluxDB connections.
func (c *core) healthCheck(ctx context.Context) error {
	if err := c.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.adbd != nil && c.adbd.IsManaged() {
		if err := c.adbd.HealthCheck(ctx); err != nil {
			return fmt.Errorf("adb server: %w", err)
		}
	}
	if c.influx != nil {
		if err := c.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

func (c *core) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// Close releases everything in reverse order of acquisition.
func (c *core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
