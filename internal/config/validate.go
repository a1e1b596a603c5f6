package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the values the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Serial.Enabled && strings.TrimSpace(c.Serial.Port) == "" {
		return errors.New("serial.port is required when serial is enabled")
	}
	if c.UDP.Enabled {
		if c.UDP.Listen == "" {
			return errors.New("udp.listen is required when udp is enabled")
		}
		if c.UDP.RcvBuf < 0 {
			return fmt.Errorf("udp.rcv_buf must not be negative, got %d", c.UDP.RcvBuf)
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal.path is required when the journal is enabled")
	}
	if c.Capture.Enabled && c.Capture.Path == "" {
		return errors.New("capture.path is required when capture is enabled")
	}
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return errors.New("redis.address is required when redis is enabled")
		}
		if c.Redis.ChannelPrefix == "" {
			return errors.New("redis.channel_prefix must not be empty")
		}
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Logging.Output == "" {
		return errors.New("logging.output must not be empty")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if c.HTTP.Listen == "" {
		return errors.New("http.listen must not be empty")
	}
	return nil
}
