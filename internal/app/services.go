package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/db"
	"github.com/dokzlo13/lightlink/internal/eventbus"
	"github.com/dokzlo13/lightlink/internal/ledger"
	"github.com/dokzlo13/lightlink/internal/metrics"
	"github.com/dokzlo13/lightlink/internal/status"
	"github.com/dokzlo13/lightlink/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *storage.Store
	Status   *storage.StatusStore
	Registry *prometheus.Registry
	Metrics  *metrics.AppMetrics
	Bus      *eventbus.Bus

	// Shared light state
	Holder *status.Holder

	// High-level services
	Cloud       *CloudService
	Passthrough *PassthroughService
	Health      *HealthService
	Heap        *HeapService
	Retention   *RetentionService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Status = storage.NewStatusStore(s.Store, cfg.Cloud.DeviceID)

	s.Registry = metrics.NewRegistry()
	s.Metrics = metrics.NewAppMetrics(s.Registry)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Cloud = NewCloudService(cfg, s.Bus, s.Ledger, s.Metrics)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Restore the light state before anything can read or report it
	initial, err := s.initialRecord()
	if err != nil {
		return err
	}
	s.Holder = status.NewHolder(initial)

	// Register with the cloud
	if err := s.Cloud.Start(ctx); err != nil {
		return err
	}

	// Handlers must be in place before the stream raises cloud_connected
	s.Passthrough = NewPassthroughService(s.cfg, s.Cloud.Client, s.Holder, s.Status, s.Metrics)
	s.Passthrough.RegisterHandlers(s.Bus)

	// Start all background services
	s.Passthrough.Start(ctx)
	s.Cloud.StartBackground(ctx, onFatalError)

	s.Health = NewHealthService(s.cfg, s.Registry, s.Cloud.Connected)
	s.Health.Start(ctx)

	s.Heap = NewHeapService(s.cfg.HeapReportInterval.Duration(), s.Metrics)
	s.Heap.Start(ctx)

	s.Retention = NewRetentionService(s.cfg, s.Ledger)
	s.Retention.Start(ctx)

	return nil
}

// initialRecord returns the persisted record, or the configured defaults.
func (s *Services) initialRecord() (status.Record, error) {
	rec, ok, err := s.Status.Load()
	if err != nil {
		return status.Record{}, err
	}
	if ok {
		log.Info().EmbedObject(rec).Msg("Restored status record")
		return rec, nil
	}
	return InitialRecord(s.cfg.Device.Initial), nil
}

// InitialRecord overlays configured initial values on the default record.
func InitialRecord(c config.InitialConfig) status.Record {
	rec := status.Default()
	if c.Power != nil {
		rec.Power = *c.Power
	}
	if c.WorkMode != nil {
		rec.WorkMode = *c.WorkMode
	}
	if c.ColorTemp != nil {
		rec.ColorTemp = *c.ColorTemp
	}
	if c.Brightness != nil {
		rec.Brightness = *c.Brightness
	}
	if c.Delay != nil {
		rec.Delay = *c.Delay
	}
	return rec
}

// ClearState forgets the persisted status record.
func (s *Services) ClearState() error {
	return s.Status.Reset()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	// Unblock the reader first, then let the workers drain before the database goes away
	if s.Cloud != nil {
		s.Cloud.Close()
	}
	if s.Passthrough != nil {
		s.Passthrough.Wait(s.shutdownTimeout())
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

func (s *Services) shutdownTimeout() time.Duration {
	if d := s.cfg.ShutdownTimeout.Duration(); d > 0 {
		return d
	}
	return 5 * time.Second
}
