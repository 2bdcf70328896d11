package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateClient(); err != nil {
		return err
	}
	if err := c.validateReencode(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		return fmt.Errorf("daemon.port must be between 1 and 65535 (got %d)", c.Daemon.Port)
	}
	return ensurePositiveMap(map[string]int{
		"daemon.split_workers":        c.Daemon.SplitWorkers,
		"daemon.reencode_workers":     c.Daemon.ReencodeWorkers,
		"daemon.read_timeout_seconds": c.Daemon.ReadTimeoutSeconds,
	})
}

func (c *Config) validateClient() error {
	if err := ensurePositiveMap(map[string]int{
		"client.poll_initial_ms":        c.Client.PollInitialMillis,
		"client.poll_max_ms":            c.Client.PollMaxMillis,
		"client.launch_timeout_seconds": c.Client.LaunchTimeoutSeconds,
		"client.max_launches":           c.Client.MaxLaunches,
	}); err != nil {
		return err
	}
	if c.Client.PollMaxMillis < c.Client.PollInitialMillis {
		return errors.New("client.poll_max_ms must be at least client.poll_initial_ms")
	}
	return nil
}

func (c *Config) validateReencode() error {
	if c.Reencode.Quality < 0 {
		return errors.New("reencode.quality must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
