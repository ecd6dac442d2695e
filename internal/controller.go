package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jankrod/barchomat/internal/core"
	"github.com/jankrod/barchomat/internal/core/codec"
	"github.com/jankrod/barchomat/internal/core/data"
	"github.com/jankrod/barchomat/internal/core/debug"
	"github.com/jankrod/barchomat/internal/core/schema"
	"github.com/jankrod/barchomat/internal/proxy"
	"github.com/jankrod/barchomat/internal/server"
)

// Mode selects what the Controller runs.
type Mode int

const (
	// ProxyMode relays clients to the real server and captures villages.
	ProxyMode Mode = iota
	// ServerMode serves captured villages to clients.
	ServerMode
)

// Controller is the main entrypoint for barchomat. It's responsible for initializing
// any shared resources (such as database and logging), defining the servers, and
// launching everything.
type Controller struct {
	Config *core.Config
	Mode   Mode

	logger  *logrus.Logger
	metrics *debug.Metrics
	factory *codec.Factory
	db      *gorm.DB
	wg      sync.WaitGroup

	servers []*frontend
}

// Start runs the configured servers until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	defer c.Shutdown()

	var err error
	// Set up the logger, which will be used by all sub-servers.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	c.metrics = debug.NewMetrics(registry)

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort, registry)
	}

	resolver, err := schema.Load(c.Config.Protocol.SchemaFile)
	if err != nil {
		return fmt.Errorf("error loading protocol schema: %w", err)
	}
	c.factory = codec.NewFactory(resolver, codec.Options{
		MaxArrayLength: c.Config.Protocol.MaxArrayLength,
		AllFields:      c.Config.Protocol.CaptureAllFields,
		Logger:         c.logger,
	})

	if c.usesDatabase() {
		if c.db, err = data.Open(c.Config); err != nil {
			return err
		}
	}

	// Configure and run all of our servers.
	c.declareServers()
	return c.run(ctx)
}

func (c *Controller) usesDatabase() bool {
	switch c.Mode {
	case ProxyMode:
		return c.Config.Proxy.SaveToDatabase
	case ServerMode:
		return c.Config.Server.VillageSource == "database"
	}
	return false
}

// Set up all of the servers we want to run.
func (c *Controller) declareServers() {
	switch c.Mode {
	case ProxyMode:
		p := &proxy.Proxy{
			Name:    "PROXY",
			Config:  c.Config,
			Factory: c.factory,
			Logger:  c.logger,
			Metrics: c.metrics,
		}
		if c.db != nil {
			p.Repositories = append(p.Repositories, &data.DBRepository{DB: c.db})
		}
		c.servers = append(c.servers, &frontend{
			Address: c.Config.ListenAddress(c.Config.Proxy.Port),
			Backend: p,
		})

	case ServerMode:
		s := &server.Server{
			Name:    "SERVER",
			Config:  c.Config,
			Factory: c.factory,
			Logger:  c.logger,
			Metrics: c.metrics,
		}
		if c.db != nil {
			s.Villages = &data.DBRepository{DB: c.db}
		}
		c.servers = append(c.servers, &frontend{
			Address: c.Config.ListenAddress(c.Config.Server.Port),
			Backend: s,
		})
	}
}

func (c *Controller) run(ctx context.Context) error {
	// Start all of our servers. Failure to initialize one of the registered servers is considered terminal.
	for _, f := range c.servers {
		f.Config = c.Config
		f.Logger = c.logger

		if err := f.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting %s server: %w", f.Backend.Identifier(), err)
		}
	}

	c.wg.Wait()
	return nil
}

// Shutdown waits for the servers to stop and releases shared resources.
func (c *Controller) Shutdown() {
	c.wg.Wait()
	if c.db != nil {
		if err := data.Close(c.db); err != nil {
			c.logger.Errorf("error closing database: %v", err)
		}
	}
}
