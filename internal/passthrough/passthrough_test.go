package passthrough

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightlink/internal/cloud"
	"github.com/dokzlo13/lightlink/internal/eventbus"
	"github.com/dokzlo13/lightlink/internal/status"
)

type readResult struct {
	frame []byte
	err   error
}

// fakeChannel serves scripted reads and records writes.
type fakeChannel struct {
	reads chan readResult

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	written  chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		reads:   make(chan readResult, 16),
		written: make(chan struct{}, 16),
	}
}

func (f *fakeChannel) Read(ctx context.Context, buf []byte) (int, error) {
	select {
	case r := <-f.reads:
		if r.err != nil {
			return 0, r.err
		}
		copy(buf, r.frame)
		return len(r.frame), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *fakeChannel) Write(_ context.Context, data []byte, _ time.Duration) error {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	err := f.writeErr
	f.mu.Unlock()
	f.written <- struct{}{}
	return err
}

func (f *fakeChannel) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type saverFunc func(status.Record) error

func (f saverFunc) Save(rec status.Record) error { return f(rec) }

// pending reports whether the signal holds a release, consuming it.
func pending(s *Signal) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	return s.Take(ctx) == nil
}

func TestSignal(t *testing.T) {
	s := NewSignal()
	assert.False(t, pending(s))

	s.Give()
	s.Give()
	s.Give()
	assert.True(t, pending(s))
	assert.False(t, pending(s), "releases must not accumulate")
}

func TestReadOnce(t *testing.T) {
	valid := []byte{0xaa, 0x07, 0x00, 0x31, 0x20, 0x64, 0x05, 0x55}

	tests := []struct {
		name        string
		read        readResult
		wantErr     bool
		wantRecord  status.Record
		wantRelease bool
		wantSaved   bool
	}{
		{
			name:        "valid frame replaces record",
			read:        readResult{frame: valid},
			wantRecord:  status.Record{Header: 0xaa, Length: 0x07, Power: 0, WorkMode: 0x31, ColorTemp: 0x20, Brightness: 0x64, Delay: 5, Trailer: 0x55},
			wantRelease: true,
			wantSaved:   true,
		},
		{
			name:        "bad header is discarded",
			read:        readResult{frame: []byte{0x00, 0x07, 0x00, 0x31, 0x20, 0x64, 0x05, 0x55}},
			wantRecord:  status.Default(),
			wantRelease: true,
		},
		{
			name:        "bad trailer is discarded",
			read:        readResult{frame: []byte{0xaa, 0x07, 0x00, 0x31, 0x20, 0x64, 0x05, 0x00}},
			wantRecord:  status.Default(),
			wantRelease: true,
		},
		{
			name:        "short frame is discarded",
			read:        readResult{frame: []byte{0xaa, 0x55}},
			wantRecord:  status.Default(),
			wantRelease: true,
		},
		{
			name:        "oversized frame is discarded",
			read:        readResult{frame: append(append([]byte(nil), valid...), 0x00)},
			wantRecord:  status.Default(),
			wantRelease: true,
		},
		{
			name:        "read error releases nothing",
			read:        readResult{err: errors.New("link down")},
			wantErr:     true,
			wantRecord:  status.Default(),
			wantRelease: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel()
			ch.reads <- tt.read

			holder := status.NewHolder(status.Default())
			signal := NewSignal()
			saved := false
			r := NewReader(ch, holder, signal, saverFunc(func(status.Record) error {
				saved = true
				return nil
			}), nil)

			err := r.ReadOnce(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantRecord, holder.Load())
			assert.Equal(t, tt.wantRelease, pending(signal))
			assert.Equal(t, tt.wantSaved, saved)
		})
	}
}

func TestReadOnce_SaveFailureKeepsRecord(t *testing.T) {
	ch := newFakeChannel()
	ch.reads <- readResult{frame: []byte{0xaa, 0x07, 0x00, 0x30, 0x50, 0x00, 0x01, 0x55}}

	holder := status.NewHolder(status.Default())
	signal := NewSignal()
	r := NewReader(ch, holder, signal, saverFunc(func(status.Record) error {
		return errors.New("disk full")
	}), nil)

	require.NoError(t, r.ReadOnce(context.Background()))
	assert.Equal(t, byte(0), holder.Load().Power)
	assert.True(t, pending(signal))
}

// captureLog redirects the global logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Level(zerolog.InfoLevel)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestStatusRecordLogging(t *testing.T) {
	buf := captureLog(t)

	ch := newFakeChannel()
	ch.reads <- readResult{frame: []byte{0xaa, 0x07, 0x00, 0x32, 0x10, 0x7f, 0x02, 0x55}}
	holder := status.NewHolder(status.Default())
	signal := NewSignal()

	require.NoError(t, NewReader(ch, holder, signal, nil, nil).ReadOnce(context.Background()))
	entry := lastLogLine(t, buf)
	assert.Equal(t, "Status record read", entry["message"])
	assert.EqualValues(t, 0x7f, entry["light_value"])
	assert.EqualValues(t, 0x10, entry["temp_value"])
	assert.EqualValues(t, 0, entry["power"])

	NewWriter(WriterConfig{}, ch, holder, signal, nil).WriteOnce(context.Background())
	entry = lastLogLine(t, buf)
	assert.Equal(t, "Reporting status record", entry["message"])
	assert.EqualValues(t, 0x02, entry["time_delay"])
	assert.EqualValues(t, 0x32, entry["work_mode"])
}

func TestReaderRun_StopsOnClosedChannel(t *testing.T) {
	ch := newFakeChannel()
	ch.reads <- readResult{err: errors.New("transient")}
	ch.reads <- readResult{err: cloud.ErrClosed}

	r := NewReader(ch, status.NewHolder(status.Default()), NewSignal(), nil, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop on closed channel")
	}
}

func TestWriter_WritesOncePerRelease(t *testing.T) {
	ch := newFakeChannel()
	holder := status.NewHolder(status.Default())
	signal := NewSignal()
	w := NewWriter(WriterConfig{Interval: time.Millisecond, Timeout: time.Second}, ch, holder, signal, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	signal.Give()
	waitWrite(t, ch)

	next := status.Default()
	next.Brightness = 0x33
	holder.Store(next)
	signal.Give()
	waitWrite(t, ch)

	// No release, no write
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, ch.writeCount())

	cancel()
	require.NoError(t, <-done)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, status.Default().Bytes(), ch.writes[0])
	assert.Equal(t, next.Bytes(), ch.writes[1])
}

func TestWriter_ContinuesAfterFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.writeErr = errors.New("timeout")
	signal := NewSignal()
	w := NewWriter(WriterConfig{Interval: time.Millisecond}, ch, status.NewHolder(status.Default()), signal, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	signal.Give()
	waitWrite(t, ch)
	signal.Give()
	waitWrite(t, ch)
}

func TestReaderFeedsWriter(t *testing.T) {
	ch := newFakeChannel()
	holder := status.NewHolder(status.Default())
	signal := NewSignal()

	r := NewReader(ch, holder, signal, nil, nil)
	w := NewWriter(WriterConfig{Interval: time.Millisecond, Timeout: time.Second}, ch, holder, signal, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	go w.Run(ctx)

	cmd := []byte{0xaa, 0x07, 0x00, 0x32, 0x10, 0x7f, 0x02, 0x55}
	ch.reads <- readResult{frame: cmd}
	waitWrite(t, ch)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, cmd, ch.writes[0], "writer echoes the accepted command")
}

func TestHandleEvent(t *testing.T) {
	tests := []struct {
		event       eventbus.EventType
		wantRelease bool
	}{
		{eventbus.EventTypeCloudConnected, true},
		{eventbus.EventTypeCloudDisconnected, false},
		{eventbus.EventTypeGetDeviceData, true},
		{eventbus.EventTypeSetDeviceData, false},
		{eventbus.EventTypePostCloudData, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			s := NewSignal()
			HandleEvent(eventbus.Event{Type: tt.event, Data: map[string]interface{}{}}, s)
			assert.Equal(t, tt.wantRelease, pending(s))
		})
	}
}

func TestRegisterHandlers(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 8)
	defer bus.Close(context.Background())

	s := NewSignal()
	RegisterHandlers(bus, s)
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeCloudConnected})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Take(ctx))
}

func waitWrite(t *testing.T, ch *fakeChannel) {
	t.Helper()
	select {
	case <-ch.written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
}
