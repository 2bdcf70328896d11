package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Daemon contains control endpoint and worker pool settings.
type Daemon struct {
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	SplitWorkers       int    `toml:"split_workers"`
	ReencodeWorkers    int    `toml:"reencode_workers"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`
}

// Client contains the supervisor probe/launch timing used by the CLI.
type Client struct {
	PollInitialMillis    int `toml:"poll_initial_ms"`
	PollMaxMillis        int `toml:"poll_max_ms"`
	LaunchTimeoutSeconds int `toml:"launch_timeout_seconds"`
	MaxLaunches          int `toml:"max_launches"`
}

// Split contains configuration for the audio separation stage.
type Split struct {
	DemucsBinary string `toml:"demucs_binary"`
	Model        string `toml:"model"`
}

// Reencode contains configuration for the video re-encode stage.
type Reencode struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	AudioCodec    string `toml:"audio_codec"`
	VideoCodec    string `toml:"video_codec"`
	Quality       int    `toml:"quality"`
	Preset        string `toml:"preset"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for songconvert.
//
// Configuration sections by subsystem:
//   - Paths: log and state directories
//   - Daemon: control endpoint and stage worker counts
//   - Client: supervisor probe/launch timing
//   - Split: demucs separation settings
//   - Reencode: ffprobe/ffmpeg settings
//   - Logging: log format, level, and retention
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Daemon        Daemon        `toml:"daemon"`
	Client        Client        `toml:"client"`
	Split         Split         `toml:"split"`
	Reencode      Reencode      `toml:"reencode"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("songconvert.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ControlAddress returns the host:port of the daemon control endpoint.
func (c *Config) ControlAddress() string {
	return net.JoinHostPort(c.Daemon.Host, strconv.Itoa(c.Daemon.Port))
}

// ReadTimeout bounds the listener's initial request read.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Daemon.ReadTimeoutSeconds) * time.Second
}

// LockPath returns the flock path guarding a single daemon per control port.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, fmt.Sprintf("songconvert-%d.lock", c.Daemon.Port))
}

// PIDPath returns the pid file written by the running daemon.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, fmt.Sprintf("songconvert-%d.pid", c.Daemon.Port))
}

// HistoryDBPath returns the SQLite job journal location.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LaunchLogPath captures stdout/stderr of a daemon started by the supervisor.
func (c *Config) LaunchLogPath() string {
	return filepath.Join(c.Paths.LogDir, "daemon-launch.log")
}

// PollInitial is the first supervisor backoff delay.
func (c *Config) PollInitial() time.Duration {
	return time.Duration(c.Client.PollInitialMillis) * time.Millisecond
}

// PollMax caps the supervisor backoff delay.
func (c *Config) PollMax() time.Duration {
	return time.Duration(c.Client.PollMaxMillis) * time.Millisecond
}

// LaunchTimeout bounds how long the supervisor probes after one launch.
func (c *Config) LaunchTimeout() time.Duration {
	return time.Duration(c.Client.LaunchTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
