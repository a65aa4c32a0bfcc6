package supervisor

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kilianp07/routesync/core/realtime"
)

// MinPingInterval is the lowest heartbeat interval a client may be configured with.
const MinPingInterval = 10 * time.Second

// Config controls dialing, heartbeats and reconnection.
type Config struct {
	ServerURL string
	Transport string

	// Heartbeat used when the server does not advertise one.
	PingInterval time.Duration
	PingTimeout  time.Duration

	MinDelay     time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxAttempts  int
	ProbeTimeout time.Duration
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Transport == "" {
		c.Transport = realtime.TransportWebSocket
	}
	if c.PingInterval == 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = 20 * time.Second
	}
	if c.MinDelay == 0 {
		c.MinDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.Jitter == 0 {
		c.Jitter = 0.5
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be an http(s) url", c.ServerURL)
	}
	if c.PingInterval < MinPingInterval {
		return fmt.Errorf("ping interval %s is below %s", c.PingInterval, MinPingInterval)
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("reconnect floor %s exceeds ceiling %s", c.MinDelay, c.MaxDelay)
	}
	if c.Multiplier < 1 {
		return errors.New("reconnect multiplier must be at least 1")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return errors.New("reconnect jitter must be within [0,1]")
	}
	if c.MaxAttempts < 1 {
		return errors.New("reconnect attempts must be positive")
	}
	return nil
}

func (c Config) infoURL() string { return c.ServerURL + "/ws/info" }

func (c Config) socketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String(), nil
}
