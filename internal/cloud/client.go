package cloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightlink/internal/eventbus"
	"github.com/dokzlo13/lightlink/internal/metrics"
)

// Product identifies the device model to the platform.
type Product struct {
	Name    string
	Version string
	Model   string
	Key     string
	Secret  string
}

// ClientConfig contains the cloud client settings.
type ClientConfig struct {
	Endpoint     string
	DeviceID     string
	Product      Product
	Timeout      time.Duration // HTTP timeout for registration
	QueueSize    int           // Pending downlink frames
	RateLimitRPS float64       // Uplink rate limit
}

// Deduper records downlink message ids and reports whether one is new.
type Deduper interface {
	RecordDownlink(msgID, source string, payload map[string]any) (bool, error)
}

// Client talks to the cloud platform on behalf of one device.
// It implements Channel; downlink frames are fed by an EventStream.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	bus        *eventbus.Bus
	dedupe     Deduper
	metrics    *metrics.AppMetrics
	limiter    *rate.Limiter

	mu    sync.RWMutex
	token string

	downlink  chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new cloud client. dedupe may be nil.
func NewClient(cfg ClientConfig, bus *eventbus.Bus, dedupe Deduper, m *metrics.AppMetrics) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 2
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10.0
	}
	if m == nil {
		m = metrics.NewAppMetrics(nil)
	}

	burst := int(cfg.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		bus:        bus,
		dedupe:     dedupe,
		metrics:    m,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst),
		downlink:   make(chan []byte, cfg.QueueSize),
		closed:     make(chan struct{}),
	}
}

type registerRequest struct {
	DeviceID  string          `json:"device_id"`
	Product   registerProduct `json:"product"`
	Timestamp int64           `json:"timestamp"`
	Sign      string          `json:"sign"`
}

type registerProduct struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Model   string `json:"model"`
	Key     string `json:"key"`
}

type registerResponse struct {
	Token string `json:"token"`
}

// Register announces the device and obtains the session token used by the stream and uplink.
func (c *Client) Register(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	ts := time.Now().Unix()
	body, err := json.Marshal(registerRequest{
		DeviceID: c.cfg.DeviceID,
		Product: registerProduct{
			Name:    c.cfg.Product.Name,
			Version: c.cfg.Product.Version,
			Model:   c.cfg.Product.Model,
			Key:     c.cfg.Product.Key,
		},
		Timestamp: ts,
		Sign:      Sign(c.cfg.Product.Secret, c.cfg.Product.Key, c.cfg.DeviceID, ts),
	})
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, "/v1/devices/register", bytes.NewReader(body), false)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to register device: unexpected status code: %d", resp.StatusCode)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode register response: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("failed to register device: empty token")
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()

	log.Info().
		Str("device_id", c.cfg.DeviceID).
		Str("model", c.cfg.Product.Model).
		Str("version", c.cfg.Product.Version).
		Msg("Registered with cloud")
	return nil
}

// Sign computes the registration signature: hex(HMAC-SHA256(secret, key|deviceID|timestamp)).
func Sign(secret, key, deviceID string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key + "|" + deviceID + "|" + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Read implements Channel.
func (c *Client) Read(ctx context.Context, buf []byte) (int, error) {
	select {
	case frame := <-c.downlink:
		copy(buf, frame)
		return len(frame), nil
	case <-c.closed:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write implements Channel.
func (c *Client) Write(ctx context.Context, data []byte, timeout time.Duration) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("uplink rate limit: %w", err)
	}

	msgID := uuid.NewString()
	body, err := json.Marshal(Message{MsgID: msgID, Raw: data})
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, c.devicePath("data"), bytes.NewReader(body), true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("uplink rejected: unexpected status code: %d", resp.StatusCode)
	}

	c.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypePostCloudData,
		Data: map[string]interface{}{
			"msg_id": msgID,
			"size":   len(data),
		},
	})
	return nil
}

// deliver queues a downlink frame for Read. Redelivered and overflow frames are dropped.
func (c *Client) deliver(msg Message) {
	if c.dedupe != nil {
		fresh, err := c.dedupe.RecordDownlink(msg.MsgID, "cloud", map[string]any{
			"raw": msg.Raw,
		})
		if err != nil {
			// Deliver anyway
			log.Warn().Err(err).Str("msg_id", msg.MsgID).Msg("Failed to record downlink message")
		} else if !fresh {
			c.metrics.DownlinkFrames.WithLabelValues(metrics.ResultDuplicate).Inc()
			log.Debug().Str("msg_id", msg.MsgID).Msg("Dropping redelivered downlink message")
			return
		}
	}

	select {
	case c.downlink <- msg.Raw:
	default:
		c.metrics.DownlinkFrames.WithLabelValues(metrics.ResultDropped).Inc()
		log.Warn().
			Str("msg_id", msg.MsgID).
			Int("queue_size", cap(c.downlink)).
			Msg("Downlink queue full, dropping frame")
		return
	}

	c.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSetDeviceData,
		Data: map[string]interface{}{
			"msg_id": msg.MsgID,
			"size":   len(msg.Raw),
		},
	})
}

// Close stops Read and Write and releases idle connections.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) devicePath(suffix string) string {
	return "/v1/devices/" + url.PathEscape(c.cfg.DeviceID) + "/" + suffix
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token := c.sessionToken()
		if token == "" {
			return nil, ErrNotRegistered
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.httpClient.Do(req)
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}
