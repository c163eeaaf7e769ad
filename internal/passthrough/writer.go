package passthrough

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/cloud"
	"github.com/dokzlo13/lightlink/internal/metrics"
	"github.com/dokzlo13/lightlink/internal/status"
)

// WriterConfig contains writer pacing.
type WriterConfig struct {
	Interval time.Duration // Pause after each uplink
	Timeout  time.Duration // Bound on a single uplink
}

// Writer reports the shared record each time the signal is released.
type Writer struct {
	cfg     WriterConfig
	channel cloud.Channel
	holder  *status.Holder
	signal  *Signal
	metrics *metrics.AppMetrics
}

// NewWriter creates a writer.
func NewWriter(cfg WriterConfig, channel cloud.Channel, holder *status.Holder, signal *Signal, m *metrics.AppMetrics) *Writer {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if m == nil {
		m = metrics.NewAppMetrics(nil)
	}
	return &Writer{
		cfg:     cfg,
		channel: channel,
		holder:  holder,
		signal:  signal,
		metrics: m,
	}
}

// Run writes until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	for {
		if err := w.signal.Take(ctx); err != nil {
			log.Debug().Msg("Write task stopped")
			return nil
		}

		w.WriteOnce(ctx)

		select {
		case <-ctx.Done():
			log.Debug().Msg("Write task stopped")
			return nil
		case <-time.After(w.cfg.Interval):
		}
	}
}

// WriteOnce sends the current record. Failures are logged and counted, never returned.
func (w *Writer) WriteOnce(ctx context.Context) {
	rec := w.holder.Load()
	log.Info().EmbedObject(rec).Msg("Reporting status record")

	if err := w.channel.Write(ctx, rec.Bytes(), w.cfg.Timeout); err != nil {
		w.metrics.UplinkWrites.WithLabelValues(metrics.ResultError).Inc()
		log.Warn().Err(err).Msg("Channel write failed")
		return
	}
	w.metrics.UplinkWrites.WithLabelValues(metrics.ResultOK).Inc()
}
