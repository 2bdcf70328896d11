package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"songconvert/internal/config"
	"songconvert/internal/daemonctl"
	"songconvert/internal/daemonrun"
	"songconvert/internal/testsupport"
)

const (
	stubDemucs = `model="$4"; audio="$5"; out="$7"
stem=$(basename "$audio"); stem="${stem%.*}"
mkdir -p "$out/$model/$stem"
echo vocals > "$out/$model/$stem/vocals.mp3"
echo instrumental > "$out/$model/$stem/no_vocals.mp3"
`
	stubProbe  = `echo '{"streams":[{"index":0,"codec_type":"video","codec_name":"mpeg4"},{"index":1,"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"10.0"}}'` + "\n"
	stubFFmpeg = `for a in "$@"; do out="$a"; done
echo encoded > "$out"
`
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	testsupport.StubBinaries(t, map[string]string{
		"demucs":  stubDemucs,
		"ffprobe": stubProbe,
		"ffmpeg":  stubFFmpeg,
	})
	cfg := testsupport.NewConfig(t, testsupport.WithPort(freePort(t)))
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("SONGCONVERT_NTFY_TOPIC", "")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

type daemonHandle struct {
	done chan struct{}
	err  error
}

func (h *daemonHandle) wait() error {
	<-h.done
	return h.err
}

// startDaemon runs the daemon in-process and stops it when the test ends.
func startDaemon(t *testing.T, env *cliTestEnv) *daemonHandle {
	t.Helper()
	h := &daemonHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = daemonrun.Run(context.Background(), env.cfg, daemonrun.Options{LogLevel: "info"})
	}()

	sup := daemonctl.NewFromConfig(env.cfg, nil, nil)
	waitFor(t, 5*time.Second, func() bool { return sup.Running(context.Background()) })
	t.Cleanup(func() {
		if sup.Running(context.Background()) {
			_ = sup.Stop(context.Background())
		}
		select {
		case <-h.done:
		case <-time.After(10 * time.Second):
			t.Errorf("daemon did not stop")
		}
	})
	return h
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
