package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/routesync/client/supervisor"
	"github.com/kilianp07/routesync/core/realtime"
	"github.com/kilianp07/routesync/infra/ws"
)

// HTTPConfig configures the REST listener.
type HTTPConfig struct {
	Address               string   `json:"address"`
	CORSOrigins           []string `json:"cors_origins"`
	IdempotencyTTLSeconds int      `json:"idempotency_ttl_seconds"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.IdempotencyTTLSeconds == 0 {
		c.IdempotencyTTLSeconds = 600
	}
}

func (c HTTPConfig) Validate() error {
	if c.IdempotencyTTLSeconds < 0 {
		return fmt.Errorf("idempotency_ttl_seconds must be positive")
	}
	return nil
}

// IdempotencyTTL is how long a replayed Idempotency-Key returns the first response.
func (c HTTPConfig) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

// RealtimeConfig configures the event bus.
type RealtimeConfig struct {
	Transport           string `json:"transport"`
	PingIntervalSeconds int    `json:"ping_interval_seconds"`
	PingTimeoutSeconds  int    `json:"ping_timeout_seconds"`
	SendQueue           int    `json:"send_queue"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

func (c *RealtimeConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = realtime.TransportWebSocket
	}
	if c.PingIntervalSeconds == 0 {
		c.PingIntervalSeconds = 25
	}
	if c.PingTimeoutSeconds == 0 {
		c.PingTimeoutSeconds = 20
	}
	if c.SendQueue == 0 {
		c.SendQueue = 64
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = 10
	}
}

func (c RealtimeConfig) Validate() error {
	if c.Transport != realtime.TransportWebSocket {
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.PingTimeoutSeconds < 0 || c.SendQueue < 0 || c.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("negative realtime setting")
	}
	if floor := supervisor.MinPingInterval; time.Duration(c.PingIntervalSeconds)*time.Second < floor {
		return fmt.Errorf("ping_interval_seconds %d is below %s", c.PingIntervalSeconds, floor)
	}
	return nil
}

// Hub converts the section into the hub settings. Origins are shared with
// the REST CORS list.
func (c RealtimeConfig) Hub(origins []string) ws.Config {
	return ws.Config{
		PingInterval:   time.Duration(c.PingIntervalSeconds) * time.Second,
		PingTimeout:    time.Duration(c.PingTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(c.WriteTimeoutSeconds) * time.Second,
		SendQueue:      c.SendQueue,
		AllowedOrigins: origins,
	}
}

// SafetyConfig sets the zone in which the calendar day of a safety check is computed.
type SafetyConfig struct {
	TimeZone string `json:"time_zone"`
}

func (c *SafetyConfig) SetDefaults() {
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
}

func (c SafetyConfig) Validate() error {
	_, err := c.Location()
	return err
}

func (c SafetyConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// ReactorsConfig sizes the signal subscriptions.
type ReactorsConfig struct {
	Buffer int `json:"buffer"`
}

func (c *ReactorsConfig) SetDefaults() {
	if c.Buffer == 0 {
		c.Buffer = 256
	}
}

func (c ReactorsConfig) Validate() error {
	if c.Buffer < 1 {
		return fmt.Errorf("buffer must be at least 1")
	}
	return nil
}
