package metrics

import "fmt"

// InfluxConfig selects the InfluxDB export of DailyKPI rows.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// Config defines settings for metrics exposure.
type Config struct {
	PrometheusEnabled bool         `json:"prometheus_enabled"`
	PrometheusPort    string       `json:"prometheus_port"`
	Influx            InfluxConfig `json:"influx"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9100"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("metrics: influx requires url and bucket")
	}
	return nil
}
