package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/cloud"
	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/eventbus"
	"github.com/dokzlo13/lightlink/internal/ledger"
	"github.com/dokzlo13/lightlink/internal/metrics"
)

// CloudService wraps the cloud client and its downlink event stream.
type CloudService struct {
	cfg *config.Config

	Client      *cloud.Client
	EventStream *cloud.EventStream

	ledger    *ledger.Ledger
	connected atomic.Bool
}

// NewCloudService creates a CloudService with all components initialized but not connected.
func NewCloudService(cfg *config.Config, bus *eventbus.Bus, l *ledger.Ledger, m *metrics.AppMetrics) *CloudService {
	key, secret := cfg.Cloud.Credentials()

	client := cloud.NewClient(cloud.ClientConfig{
		Endpoint: cfg.Cloud.Endpoint,
		DeviceID: cfg.Cloud.DeviceID,
		Product: cloud.Product{
			Name:    cfg.Cloud.Product.Name,
			Version: cfg.Cloud.Product.Version,
			Model:   cfg.Cloud.Product.Model,
			Key:     key,
			Secret:  secret,
		},
		Timeout:      cfg.Cloud.Timeout.Duration(),
		QueueSize:    cfg.Cloud.DownlinkQueue,
		RateLimitRPS: cfg.Cloud.RateLimitRPS,
	}, bus, l, m)

	eventStreamConfig := cloud.EventStreamConfig{
		MinBackoff:    cfg.Cloud.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.Cloud.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.Cloud.RetryMultiplier,
		MaxReconnects: cfg.Cloud.MaxReconnects,
	}

	s := &CloudService{
		cfg:    cfg,
		Client: client,
		ledger: l,
	}
	s.EventStream = cloud.NewEventStream(client, eventStreamConfig, s)

	return s
}

// Start registers the device with the cloud.
func (s *CloudService) Start(ctx context.Context) error {
	s.logLastSession()
	if err := s.Client.Register(ctx); err != nil {
		return err
	}
	log.Info().
		Str("endpoint", s.cfg.Cloud.Endpoint).
		Bool("sandbox", s.cfg.Cloud.Sandbox).
		Msg("Cloud channel initialized")
	return nil
}

// StartBackground starts the downlink event stream.
// The optional onFatalError callback is called when the stream gives up reconnecting.
func (s *CloudService) StartBackground(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.EventStream.Run(ctx); err != nil {
			if errors.Is(err, cloud.ErrMaxReconnectsExceeded) {
				log.Error().Msg("Event stream: max reconnects exceeded, triggering shutdown")
				if onFatalError != nil {
					onFatalError(err)
				}
			} else {
				log.Error().Err(err).Msg("Event stream error")
			}
		}
	}()
}

// Connected reports whether the downlink stream is currently open.
func (s *CloudService) Connected() bool {
	return s.connected.Load()
}

// Close releases all resources.
func (s *CloudService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}

// RecordConnection is called by the event stream, in order, on every open and
// close of the downlink stream. It backs /ready and the connection ledger.
func (s *CloudService) RecordConnection(connected bool, session string) {
	s.connected.Store(connected)

	eventType := ledger.EventCloudDisconnected
	if connected {
		eventType = ledger.EventCloudConnected
	}
	if err := s.ledger.Append(eventType, "cloud", map[string]any{"session": session}); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to append to ledger")
	}
}

// logLastSession reports when the previous run last had the downlink open.
func (s *CloudService) logLastSession() {
	entries, err := s.ledger.GetByType(ledger.EventCloudConnected, 1)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read connection history")
		return
	}
	if len(entries) == 0 {
		log.Debug().Msg("No previous cloud session")
		return
	}
	log.Info().
		Time("connected_at", entries[0].Timestamp).
		Interface("session", entries[0].Payload["session"]).
		Msg("Previous cloud session")
}
