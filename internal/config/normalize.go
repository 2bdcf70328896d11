package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDaemon()
	c.normalizeBinaries()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDaemon() {
	c.Daemon.Host = strings.TrimSpace(c.Daemon.Host)
	if c.Daemon.Host == "" {
		c.Daemon.Host = defaultHost
	}
}

func (c *Config) normalizeBinaries() {
	c.Split.DemucsBinary = strings.TrimSpace(c.Split.DemucsBinary)
	if c.Split.DemucsBinary == "" {
		c.Split.DemucsBinary = defaultDemucsBinary
	}
	c.Split.Model = strings.TrimSpace(c.Split.Model)
	if c.Split.Model == "" {
		c.Split.Model = defaultDemucsModel
	}
	c.Reencode.FFmpegBinary = strings.TrimSpace(c.Reencode.FFmpegBinary)
	if c.Reencode.FFmpegBinary == "" {
		c.Reencode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Reencode.FFprobeBinary = strings.TrimSpace(c.Reencode.FFprobeBinary)
	if c.Reencode.FFprobeBinary == "" {
		c.Reencode.FFprobeBinary = defaultFFprobeBinary
	}
	c.Reencode.AudioCodec = strings.ToLower(strings.TrimSpace(c.Reencode.AudioCodec))
	if c.Reencode.AudioCodec == "" {
		c.Reencode.AudioCodec = defaultAudioCodec
	}
	c.Reencode.VideoCodec = strings.TrimSpace(c.Reencode.VideoCodec)
	if c.Reencode.VideoCodec == "" {
		c.Reencode.VideoCodec = defaultVideoCodec
	}
	c.Reencode.Preset = strings.TrimSpace(c.Reencode.Preset)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SONGCONVERT_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}
