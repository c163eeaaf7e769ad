package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/status"
)

// App owns the agent's services for one device and drives their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopErr  error
}

// New opens storage and builds the services. Nothing talks to the cloud yet.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start restores the light state, registers the device and launches the
// passthrough tasks. A stream that exhausts its reconnects cancels the app.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	fatal := func(err error) {
		log.Error().Err(err).Str("device_id", a.cfg.Cloud.DeviceID).Msg("Cloud channel lost, shutting down")
		a.cancel()
	}
	if err := a.services.Start(a.ctx, fatal); err != nil {
		return err
	}

	log.Info().
		Str("device_id", a.cfg.Cloud.DeviceID).
		EmbedObject(a.Status()).
		Msg("lightlink started")
	return nil
}

// Status returns the current light state. Before Start it is the default record.
func (a *App) Status() status.Record {
	if a.services == nil || a.services.Holder == nil {
		return status.Default()
	}
	return a.services.Holder.Load()
}

// Stop cancels the app context and releases every service. It is safe to
// call more than once; later calls return the first result.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		log.Info().EmbedObject(a.Status()).Msg("Shutting down")
		if a.cancel != nil {
			a.cancel()
		}
		if a.services != nil {
			a.stopErr = a.services.Stop()
		}
	})
	return a.stopErr
}

// Wait blocks until the app context ends: a shutdown signal or a fatal channel error.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearState forgets the persisted status record, backing --reset-state.
func (a *App) ClearState() error {
	if a.services == nil {
		return nil
	}
	return a.services.ClearState()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
