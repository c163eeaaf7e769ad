package cloud

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightlink/internal/eventbus"
)

var errUnauthorized = errors.New("session token rejected")

// EventStreamConfig contains configuration for event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultEventStreamConfig returns sensible defaults for event stream configuration.
func DefaultEventStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    2 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
	}
}

// ConnectionRecorder receives connection lifecycle changes for auditing.
type ConnectionRecorder interface {
	RecordConnection(connected bool, session string)
}

// EventStream listens to the device's downlink event stream (SSE).
type EventStream struct {
	client     *Client
	httpClient *http.Client
	config     EventStreamConfig
	recorder   ConnectionRecorder
}

// NewEventStream creates an event stream listener. Zero backoff fields take
// their DefaultEventStreamConfig values; recorder may be nil.
func NewEventStream(client *Client, config EventStreamConfig, recorder ConnectionRecorder) *EventStream {
	defaults := DefaultEventStreamConfig()
	if config.MinBackoff <= 0 {
		config.MinBackoff = defaults.MinBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Multiplier < 1 {
		config.Multiplier = defaults.Multiplier
	}
	return &EventStream{
		client: client,
		httpClient: &http.Client{
			// No timeout for SSE - it's a long-lived connection
		},
		config:   config,
		recorder: recorder,
	}
}

// Run starts listening to the event stream with automatic reconnection.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (e *EventStream) Run(ctx context.Context) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		established, err := e.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// A stream that was up resets the retry budget
		if established {
			retryCount = 0
			currentBackoff = e.config.MinBackoff
		}

		if errors.Is(err, errUnauthorized) {
			log.Warn().Msg("Event stream: session expired, registering again")
			if regErr := e.client.Register(ctx); regErr != nil {
				log.Warn().Err(regErr).Msg("Event stream: re-registration failed")
			}
		}

		retryCount++
		e.client.metrics.Reconnects.Inc()

		// Check if we exceeded max reconnects
		if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
			log.Error().
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Event stream: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", e.config.MaxReconnects).
			Msg("Event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		// Calculate next backoff with multiplier, capped at max
		nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
		if nextBackoff > e.config.MaxBackoff {
			nextBackoff = e.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

// connect runs one stream session. established reports whether the stream was opened.
func (e *EventStream) connect(ctx context.Context) (established bool, err error) {
	token := e.client.sessionToken()
	if token == "" {
		return false, errUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.client.cfg.Endpoint+e.client.devicePath("events"), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return false, errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	session := uuid.NewString()
	e.setConnected(true, session)
	defer e.setConnected(false, session)

	scanner := bufio.NewScanner(resp.Body)
	var eventName string
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Comments and keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		// Empty line marks end of event
		if line == "" {
			if dataBuffer.Len() > 0 {
				e.processEvent(eventName, dataBuffer.String())
			}
			eventName = ""
			dataBuffer.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataBuffer.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, err
	}

	return true, errors.New("event stream closed by server")
}

func (e *EventStream) setConnected(connected bool, session string) {
	eventType := eventbus.EventTypeCloudDisconnected
	gauge := 0.0
	if connected {
		eventType = eventbus.EventTypeCloudConnected
		gauge = 1
		log.Info().Str("session", session).Msg("Connected to cloud event stream")
	}

	e.client.metrics.CloudConnected.Set(gauge)
	if e.recorder != nil {
		e.recorder.RecordConnection(connected, session)
	}
	e.client.bus.Publish(eventbus.Event{
		Type: eventType,
		Data: map[string]interface{}{
			"session": session,
		},
	})
}

func (e *EventStream) processEvent(name, data string) {
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		log.Warn().Err(err).Str("event", name).Str("data", data).Msg("Failed to parse event")
		return
	}

	switch name {
	case "set":
		log.Debug().
			Str("msg_id", msg.MsgID).
			Int("size", len(msg.Raw)).
			Msg("Downlink frame")
		e.client.deliver(msg)

	case "get":
		log.Debug().Str("msg_id", msg.MsgID).Msg("Cloud query")
		e.client.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeGetDeviceData,
			Data: map[string]interface{}{
				"msg_id": msg.MsgID,
			},
		})

	default:
		log.Trace().
			Str("event", name).
			Str("msg_id", msg.MsgID).
			Msg("Unhandled event type")
	}
}
