// Package passthrough relays the light status record between the device and the cloud.
//
// A reader goroutine accepts command frames from the cloud into the shared record;
// a writer goroutine reports the shared record back after every read and whenever
// the cloud connects or asks for it. The two meet at a binary Signal.
package passthrough

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/cloud"
	"github.com/dokzlo13/lightlink/internal/metrics"
	"github.com/dokzlo13/lightlink/internal/status"
)

// RecordSaver persists accepted records.
type RecordSaver interface {
	Save(rec status.Record) error
}

// Reader pulls downlink frames and applies the valid ones to the shared record.
type Reader struct {
	channel cloud.Channel
	holder  *status.Holder
	signal  *Signal
	saver   RecordSaver
	metrics *metrics.AppMetrics
}

// NewReader creates a reader. saver may be nil.
func NewReader(channel cloud.Channel, holder *status.Holder, signal *Signal, saver RecordSaver, m *metrics.AppMetrics) *Reader {
	if m == nil {
		m = metrics.NewAppMetrics(nil)
	}
	return &Reader{
		channel: channel,
		holder:  holder,
		signal:  signal,
		saver:   saver,
		metrics: m,
	}
}

// Run reads until ctx is cancelled or the channel is closed.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if err := r.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, cloud.ErrClosed) {
				log.Debug().Err(err).Msg("Read task stopped")
				return nil
			}
			log.Warn().Err(err).Msg("Channel read failed")
		}
	}
}

// ReadOnce performs one blocking read. A completed read releases the signal
// exactly once, whether or not the frame was accepted. A failed read does not.
func (r *Reader) ReadOnce(ctx context.Context) error {
	buf := make([]byte, status.Size)
	n, err := r.channel.Read(ctx, buf)
	if err != nil {
		return err
	}
	defer r.signal.Give()

	if n != status.Size {
		r.metrics.DownlinkFrames.WithLabelValues(metrics.ResultMalformed).Inc()
		log.Debug().Int("size", n).Msg("Discarding downlink frame of unexpected size")
		return nil
	}

	rec, err := status.Decode(buf)
	if err != nil {
		r.metrics.DownlinkFrames.WithLabelValues(metrics.ResultMalformed).Inc()
		log.Debug().Err(err).Hex("frame", buf).Msg("Discarding malformed downlink frame")
		return nil
	}

	r.holder.Store(rec)
	r.metrics.DownlinkFrames.WithLabelValues(metrics.ResultAccepted).Inc()
	log.Info().EmbedObject(rec).Msg("Status record read")

	if r.saver != nil {
		if err := r.saver.Save(rec); err != nil {
			log.Warn().Err(err).Msg("Failed to persist status record")
		}
	}
	return nil
}
