package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/lightlink/internal/config"
	"github.com/dokzlo13/lightlink/internal/ledger"
	"github.com/dokzlo13/lightlink/internal/metrics"
	"github.com/dokzlo13/lightlink/internal/status"
)

// offlineConfig points at an endpoint nothing listens on; tests using it never register.
func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
cloud:
  endpoint: http://127.0.0.1:1
  device_id: light-01
  product:
    name: ALINKTEST
    model: ALINKTEST_LIVING_LIGHT_SMARTLED
    key: k
    secret: s
database:
  path: %s
ledger:
  cleanup_interval: 1h
  retention_days: 1
`, filepath.Join(t.TempDir(), "lightlink.sqlite"))))
	require.NoError(t, err)
	return cfg
}

func newOfflineServices(t *testing.T) *Services {
	t.Helper()
	s, err := NewServices(offlineConfig(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCloudService_RecordConnection(t *testing.T) {
	s := newOfflineServices(t)
	assert.False(t, s.Cloud.Connected())

	s.Cloud.RecordConnection(true, "s1")
	assert.True(t, s.Cloud.Connected())
	s.Cloud.RecordConnection(false, "s1")
	assert.False(t, s.Cloud.Connected())
	s.Cloud.RecordConnection(true, "s2")
	assert.True(t, s.Cloud.Connected())

	connected, err := s.Ledger.GetByType(ledger.EventCloudConnected, 10)
	require.NoError(t, err)
	require.Len(t, connected, 2)
	assert.Equal(t, "s2", connected[0].Payload["session"])

	disconnected, err := s.Ledger.GetByType(ledger.EventCloudDisconnected, 10)
	require.NoError(t, err)
	assert.Len(t, disconnected, 1)

	s.Cloud.logLastSession()
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestHeapService_Sample(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAppMetrics(reg)

	h := NewHeapService(0, m)
	assert.Equal(t, 5*time.Second, h.interval)

	h.Sample()
	alloc := gaugeValue(t, reg, "lightlink_heap_alloc_bytes")
	sys := gaugeValue(t, reg, "lightlink_heap_sys_bytes")
	assert.Greater(t, alloc, 0.0)
	assert.GreaterOrEqual(t, sys, alloc)
}

func TestRetentionService_TrimsExpiredEntries(t *testing.T) {
	s := newOfflineServices(t)

	_, err := s.DB.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source) VALUES (?, ?, '{}', 'cloud')`,
		string(ledger.EventCloudConnected), time.Now().Add(-48*time.Hour).Unix(),
	)
	require.NoError(t, err)
	require.NoError(t, s.Ledger.Append(ledger.EventCloudConnected, "cloud", map[string]any{"session": "fresh"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewRetentionService(s.cfg, s.Ledger).Start(ctx)

	require.Eventually(t, func() bool {
		entries, err := s.Ledger.GetByType(ledger.EventCloudConnected, 10)
		return err == nil && len(entries) == 1 && entries[0].Payload["session"] == "fresh"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetentionService_Disabled(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Ledger.RetentionDays = 0
	r := NewRetentionService(cfg, nil)

	// Disabled: Start returns without touching the nil ledger
	r.Start(context.Background())
	assert.Equal(t, time.Duration(0), r.retention)
}

func TestApp_StatusAndStopBeforeStart(t *testing.T) {
	application, err := New(offlineConfig(t))
	require.NoError(t, err)

	assert.Equal(t, status.Default(), application.Status())
	require.NoError(t, application.Stop())
	require.NoError(t, application.Stop())
}
