package daemonctl_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"songconvert/internal/daemonctl"
	"songconvert/internal/wire"
)

// freeAddress reserves a loopback port and releases it so a fake daemon can
// bind it later.
func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

// serveFake answers every connection with the given lines.
func serveFake(t *testing.T, ln net.Listener, lines ...string) {
	t.Helper()
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				if _, err := reader.ReadString('\n'); err != nil {
					return
				}
				for _, line := range lines {
					_, _ = c.Write([]byte(line + "\n"))
				}
			}(conn)
		}
	}()
}

func newSupervisor(addr string, launcher daemonctl.Launcher, maxLaunches int) *daemonctl.Supervisor {
	return daemonctl.New(daemonctl.Options{
		Address:       addr,
		Launcher:      launcher,
		DialTimeout:   500 * time.Millisecond,
		PollInitial:   5 * time.Millisecond,
		PollMax:       40 * time.Millisecond,
		LaunchTimeout: 300 * time.Millisecond,
		MaxLaunches:   maxLaunches,
	})
}

func TestConnectUsesRunningDaemon(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serveFake(t, ln, wire.TokenOK)

	var launches atomic.Int32
	sup := newSupervisor(ln.Addr().String(), daemonctl.LauncherFunc(func(context.Context) error {
		launches.Add(1)
		return nil
	}), 2)

	conn, launched, err := sup.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = conn.Close()
	if launched || launches.Load() != 0 {
		t.Fatalf("expected no launch, launched=%v count=%d", launched, launches.Load())
	}
}

func TestConnectLaunchesThenPollsUntilReady(t *testing.T) {
	addr := freeAddress(t)
	var launches atomic.Int32
	var once sync.Once
	launcher := daemonctl.LauncherFunc(func(context.Context) error {
		launches.Add(1)
		once.Do(func() {
			go func() {
				time.Sleep(30 * time.Millisecond)
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return
				}
				serveFake(t, ln, "Split completed.", "Reencode completed.", wire.TokenOK)
			}()
		})
		return nil
	})
	sup := newSupervisor(addr, launcher, 2)

	var lines []string
	err := sup.Submit(context.Background(), "/songs/A - B", func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if launches.Load() != 1 {
		t.Fatalf("expected exactly one launch, got %d", launches.Load())
	}
	if len(lines) != 2 || lines[0] != "Split completed." || lines[1] != "Reencode completed." {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestConnectGivesUpAfterMaxLaunches(t *testing.T) {
	addr := freeAddress(t)
	var launches atomic.Int32
	sup := newSupervisor(addr, daemonctl.LauncherFunc(func(context.Context) error {
		launches.Add(1)
		return nil
	}), 2)

	_, launched, err := sup.Connect(context.Background())
	if !errors.Is(err, daemonctl.ErrDaemonUnreachable) {
		t.Fatalf("expected ErrDaemonUnreachable, got %v", err)
	}
	if !launched || launches.Load() != 2 {
		t.Fatalf("expected two launches, launched=%v count=%d", launched, launches.Load())
	}
}

func TestConnectReportsLauncherFailure(t *testing.T) {
	addr := freeAddress(t)
	boom := errors.New("exec format error")
	sup := newSupervisor(addr, daemonctl.LauncherFunc(func(context.Context) error { return boom }), 3)

	if _, _, err := sup.Connect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected launcher error, got %v", err)
	}
}

func TestConnectDoesNotLaunchOnOtherDialErrors(t *testing.T) {
	addr := freeAddress(t)
	var launches atomic.Int32
	sup := newSupervisor(addr, daemonctl.LauncherFunc(func(context.Context) error {
		launches.Add(1)
		return nil
	}), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, launched, err := sup.Connect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected dial error to surface, got %v", err)
	}
	if launched || launches.Load() != 0 {
		t.Fatalf("expected no launch, launched=%v count=%d", launched, launches.Load())
	}
}

func TestRequestNeverLaunches(t *testing.T) {
	addr := freeAddress(t)
	var launches atomic.Int32
	sup := newSupervisor(addr, daemonctl.LauncherFunc(func(context.Context) error {
		launches.Add(1)
		return nil
	}), 1)

	if err := sup.Stop(context.Background()); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if launches.Load() != 0 {
		t.Fatal("Request must not launch")
	}
	if sup.Running(context.Background()) {
		t.Fatal("expected daemon to be reported as not running")
	}
}

func TestSubmitSurfacesErrorToken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serveFake(t, ln, "Queued.", wire.TokenError)
	sup := newSupervisor(ln.Addr().String(), nil, 1)

	if err := sup.Submit(context.Background(), "/songs/x", nil); !errors.Is(err, wire.ErrTerminalError) {
		t.Fatalf("expected ErrTerminalError, got %v", err)
	}
}

func TestStatusDecodesJSONLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serveFake(t, ln, `{"pid":42,"address":"127.0.0.1:6745","stages":[{"name":"split","workers":1}]}`, wire.TokenOK)
	sup := newSupervisor(ln.Addr().String(), nil, 1)

	status, err := sup.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PID != 42 || len(status.Stages) != 1 || status.Stages[0].Name != "split" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestWaitForShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	serveFake(t, ln, wire.TokenOK)
	sup := newSupervisor(ln.Addr().String(), nil, 1)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = ln.Close()
	}()
	if err := sup.WaitForShutdown(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestExecLauncherRejectsEmptyExecutable(t *testing.T) {
	err := daemonctl.ExecLauncher{}.Launch(context.Background())
	if err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestExecLauncherWritesLaunchLog(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-daemon")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho started \"$@\"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	logPath := filepath.Join(dir, "logs", "daemon-launch.log")
	launcher := daemonctl.ExecLauncher{Executable: script, ConfigPath: "/tmp/cfg.toml", LogPath: logPath}
	if err := launcher.Launch(context.Background()); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(logPath)
		if string(data) == "started daemon --config /tmp/cfg.toml\n" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("launch log never received daemon output")
}
