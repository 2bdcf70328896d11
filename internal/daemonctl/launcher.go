package daemonctl

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecLauncher starts `<Executable> daemon` as a detached process: its own
// session (unix) or process group (windows), stdin on the null device, and
// output appended to LogPath.
type ExecLauncher struct {
	Executable string
	ConfigPath string
	LogPath    string
}

// Launch starts the daemon without waiting for it.
func (l ExecLauncher) Launch(context.Context) error {
	if strings.TrimSpace(l.Executable) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(l.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}

	// exec.CommandContext would kill the daemon when the client exits.
	proc := exec.Command(l.Executable, args...)
	proc.SysProcAttr = detachedProcAttr()
	if dir, err := os.Getwd(); err == nil {
		proc.Dir = dir
	}

	if l.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(l.LogPath), 0o755); err != nil {
			return fmt.Errorf("create launch log directory: %w", err)
		}
		logFile, err := os.OpenFile(l.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open launch log: %w", err)
		}
		defer logFile.Close()
		proc.Stdout = logFile
		proc.Stderr = logFile
	}

	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}
