package config

import (
	"time"

	"github.com/kilianp07/routesync/auth"
	"github.com/kilianp07/routesync/client/supervisor"
	"github.com/kilianp07/routesync/core/realtime"
)

// ReconnectConfig bounds the watcher's reconnect schedule.
type ReconnectConfig struct {
	MinDelayMS  int     `json:"min_delay_ms"`
	MaxDelayMS  int     `json:"max_delay_ms"`
	MaxAttempts int     `json:"max_attempts"`
	Multiplier  float64 `json:"multiplier"`
	Jitter      float64 `json:"jitter"`
}

// ClientConfig configures the watch command. Either Token or OAuth provides
// the socket credential.
type ClientConfig struct {
	ServerURL           string          `json:"server_url"`
	Transport           string          `json:"transport"`
	Token               string          `json:"token"`
	PingIntervalSeconds int             `json:"ping_interval_seconds"`
	PingTimeoutSeconds  int             `json:"ping_timeout_seconds"`
	Reconnect           ReconnectConfig `json:"reconnect"`
	ProbeTimeoutMS      int             `json:"probe_timeout_ms"`
	OAuth               auth.ClientConf `json:"oauth"`
}

func (c *ClientConfig) SetDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	if c.Transport == "" {
		c.Transport = realtime.TransportWebSocket
	}
	if c.Reconnect.MinDelayMS == 0 {
		c.Reconnect.MinDelayMS = 1000
	}
	if c.Reconnect.MaxDelayMS == 0 {
		c.Reconnect.MaxDelayMS = 30000
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = 10
	}
	if c.ProbeTimeoutMS == 0 {
		c.ProbeTimeoutMS = 5000
	}
}

// Supervisor converts the section into supervisor settings. Unset heartbeat
// and backoff shape values fall back to the supervisor defaults.
func (c ClientConfig) Supervisor() supervisor.Config {
	cfg := supervisor.Config{
		ServerURL:    c.ServerURL,
		Transport:    c.Transport,
		PingInterval: time.Duration(c.PingIntervalSeconds) * time.Second,
		PingTimeout:  time.Duration(c.PingTimeoutSeconds) * time.Second,
		MinDelay:     time.Duration(c.Reconnect.MinDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.Reconnect.MaxDelayMS) * time.Millisecond,
		Multiplier:   c.Reconnect.Multiplier,
		Jitter:       c.Reconnect.Jitter,
		MaxAttempts:  c.Reconnect.MaxAttempts,
		ProbeTimeout: time.Duration(c.ProbeTimeoutMS) * time.Millisecond,
	}
	cfg.SetDefaults()
	return cfg
}

// TokenSource picks the static token when set, else the client credentials flow.
func (c ClientConfig) TokenSource() auth.TokenSource {
	if c.Token != "" || c.OAuth.AuthURL == "" {
		return auth.StaticToken(c.Token)
	}
	return auth.NewClientCred(c.OAuth)
}
