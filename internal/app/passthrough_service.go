package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/cloud"
	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/eventbus"
	"github.com/dokzlo13/lightlink/internal/metrics"
	"github.com/dokzlo13/lightlink/internal/passthrough"
	"github.com/dokzlo13/lightlink/internal/status"
)

// PassthroughService runs the read and write tasks around the shared status record.
type PassthroughService struct {
	Signal *passthrough.Signal
	Reader *passthrough.Reader
	Writer *passthrough.Writer

	wg sync.WaitGroup
}

// NewPassthroughService wires both tasks to channel and holder.
func NewPassthroughService(
	cfg *config.Config,
	channel cloud.Channel,
	holder *status.Holder,
	saver passthrough.RecordSaver,
	m *metrics.AppMetrics,
) *PassthroughService {
	signal := passthrough.NewSignal()
	return &PassthroughService{
		Signal: signal,
		Reader: passthrough.NewReader(channel, holder, signal, saver, m),
		Writer: passthrough.NewWriter(passthrough.WriterConfig{
			Interval: cfg.Device.WriteInterval.Duration(),
			Timeout:  cfg.Device.WriteTimeout.Duration(),
		}, channel, holder, signal, m),
	}
}

// RegisterHandlers subscribes the lifecycle event handler.
func (s *PassthroughService) RegisterHandlers(bus *eventbus.Bus) {
	passthrough.RegisterHandlers(bus, s.Signal)
}

// Start launches the read and write tasks.
func (s *PassthroughService) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Reader.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Writer.Run(ctx)
	}()
	log.Debug().Msg("Passthrough tasks started")
}

// Wait blocks until both tasks returned or timeout elapsed.
func (s *PassthroughService) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Passthrough tasks did not stop in time")
	}
}
