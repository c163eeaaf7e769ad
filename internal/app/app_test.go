package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightlink/internal/cloud"
	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/status"
)

func u8(v uint8) *uint8 { return &v }

func TestInitialRecord(t *testing.T) {
	assert.Equal(t, status.Default(), InitialRecord(config.InitialConfig{}))

	rec := InitialRecord(config.InitialConfig{Power: u8(0), Brightness: u8(0x64)})
	want := status.Default()
	want.Power = 0
	want.Brightness = 0x64
	assert.Equal(t, want, rec)
	assert.True(t, rec.Valid())
}

func TestHealthHandler(t *testing.T) {
	var connected atomic.Bool
	cfg := &config.Config{}
	h := NewHealthService(cfg, nil, connected.Load)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	connected.Store(true)
	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// echoCloud accepts any registration, pushes one command frame on the stream
// and records every uplink.
type echoCloud struct {
	command []byte

	mu      sync.Mutex
	uplinks [][]byte
	got     chan []byte
}

func (c *echoCloud) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/devices/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"t"}`)
	})
	mux.HandleFunc("/v1/devices/light-01/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: set\ndata: {\"msg_id\":\"cmd-1\",\"raw\":%q}\n\n", base64.StdEncoding.EncodeToString(c.command))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	mux.HandleFunc("/v1/devices/light-01/data", func(w http.ResponseWriter, r *http.Request) {
		var msg cloud.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.uplinks = append(c.uplinks, msg.Raw)
		c.mu.Unlock()
		select {
		case c.got <- msg.Raw:
		default:
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func TestApp_EndToEnd(t *testing.T) {
	command := []byte{0xaa, 0x07, 0x00, 0x32, 0x10, 0x7f, 0x02, 0x55}
	ec := &echoCloud{command: command, got: make(chan []byte, 64)}
	srv := httptest.NewServer(ec.handler())
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "lightlink.sqlite")
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
cloud:
  endpoint: %s
  device_id: light-01
  min_retry_backoff: 10ms
  max_retry_backoff: 50ms
  product:
    name: ALINKTEST
    model: ALINKTEST_LIVING_LIGHT_SMARTLED
    key: k
    secret: s
device:
  write_interval: 10ms
  write_timeout: 1s
database:
  path: %s
heap_report_interval: 1h
shutdown_timeout: 2s
`, srv.URL, dbPath)))
	require.NoError(t, err)

	application, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, application.Start(ctx))

	// The first uplink follows cloud_connected; eventually the command is echoed back
	deadline := time.After(5 * time.Second)
	echoed := false
	for !echoed {
		select {
		case raw := <-ec.got:
			echoed = string(raw) == string(command)
		case <-deadline:
			t.Fatal("command was never reported back")
		}
	}

	assert.Equal(t, byte(0x7f), application.Status().Brightness)

	cancel()
	require.NoError(t, application.Stop())

	// The accepted command survives a restart
	application, err = New(cfg)
	require.NoError(t, err)
	defer application.Stop()

	rec, ok, err := application.services.Status.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, command, rec.Bytes())
}
