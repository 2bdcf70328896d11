package daemon_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"songconvert/internal/daemon"
	"songconvert/internal/history"
	"songconvert/internal/logging"
	"songconvert/internal/stage"
	"songconvert/internal/wire"
	"songconvert/internal/workflow"
)

type fakeJournal struct {
	mu        sync.Mutex
	submitted []string
}

func (j *fakeJournal) RecordSubmitted(_ context.Context, _ string, location string, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.submitted = append(j.submitted, location)
	return nil
}

func (j *fakeJournal) RecordResult(context.Context, history.Result) error { return nil }

func (j *fakeJournal) locations() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.submitted...)
}

type harness struct {
	daemon    *daemon.Daemon
	scheduler *workflow.Scheduler
	journal   *fakeJournal
	addr      string
	served    chan error
}

func startDaemon(t *testing.T, split stage.Func) *harness {
	t.Helper()
	if split == nil {
		split = func(context.Context, string) error { return nil }
	}
	sched, err := workflow.NewScheduler(logging.NewNop(),
		workflow.StageSpec{Name: "split", Handler: split, Workers: 1, Message: "Split completed."},
		workflow.StageSpec{Name: "reencode", Handler: stage.Func(func(context.Context, string) error { return nil }), Workers: 2, Message: "Reencode completed."},
	)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	journal := &fakeJournal{}
	d, err := daemon.New(daemon.Options{
		Address:     "127.0.0.1:0",
		LockPath:    filepath.Join(t.TempDir(), "songconvert-test.lock"),
		ReadTimeout: 2 * time.Second,
		Pipeline:    sched,
		Journal:     journal,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	h := &harness{
		daemon:    d,
		scheduler: sched,
		journal:   journal,
		addr:      d.Addr().String(),
		served:    make(chan error, 1),
	}
	go func() { h.served <- d.Serve(context.Background()) }()
	t.Cleanup(func() {
		sched.Shutdown()
		_ = d.Close()
		_ = sched.Wait()
	})
	return h
}

func (h *harness) request(t *testing.T, payload string) ([]string, error) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", h.addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := wire.Send(conn, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	var lines []string
	err = wire.ReadResponses(conn, func(line string) { lines = append(lines, line) })
	return lines, err
}

func TestSubmitStreamsStageMessages(t *testing.T) {
	h := startDaemon(t, nil)
	location := filepath.Join(t.TempDir(), "Artist - Title")

	lines, err := h.request(t, location)
	if err != nil {
		t.Fatalf("expected OK, got %v (lines %v)", err, lines)
	}
	want := []string{"Queued.", "Split completed.", "Reencode completed."}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
	if got := h.journal.locations(); len(got) != 1 || got[0] != location {
		t.Fatalf("expected journaled submission, got %v", got)
	}
}

func TestFailedStageAnswersError(t *testing.T) {
	h := startDaemon(t, func(context.Context, string) error { return errors.New("demucs exited 1") })

	lines, err := h.request(t, "/songs/broken")
	if !errors.Is(err, wire.ErrTerminalError) {
		t.Fatalf("expected ERROR, got %v", err)
	}
	if len(lines) != 1 || lines[0] != "Queued." {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestStopAcknowledgesAndDrains(t *testing.T) {
	h := startDaemon(t, nil)

	if _, err := h.request(t, wire.CommandStop); err != nil {
		t.Fatalf("expected OK for STOP, got %v", err)
	}
	select {
	case err := <-h.served:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after STOP")
	}
	if !h.scheduler.ShuttingDown() {
		t.Fatal("expected scheduler to be draining")
	}
	if _, err := net.DialTimeout("tcp", h.addr, 500*time.Millisecond); err == nil {
		t.Fatal("expected endpoint to stop accepting")
	}
}

func TestEmptyConnectionIsIgnored(t *testing.T) {
	h := startDaemon(t, nil)

	conn, err := net.Dial("tcp", h.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.(*net.TCPConn).CloseWrite()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 16)
	if n, _ := conn.Read(buf); n != 0 {
		t.Fatalf("expected no reply, got %q", buf[:n])
	}
	_ = conn.Close()

	lines, err := h.request(t, wire.CommandStatus)
	if err != nil {
		t.Fatalf("STATUS after empty connection: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one status line, got %v", lines)
	}
	status, err := daemon.ParseStatus(lines[0])
	if err != nil {
		t.Fatalf("ParseStatus: %v", err)
	}
	if len(status.Stages) != 2 || status.Stages[0].Name != "split" || status.Stages[1].Workers != 2 {
		t.Fatalf("unexpected stages %+v", status.Stages)
	}
	if status.ShuttingDown {
		t.Fatal("expected running daemon")
	}
}

func TestSecondDaemonOnSameLockFails(t *testing.T) {
	h := startDaemon(t, nil)
	lockPath := filepath.Join(t.TempDir(), "shared.lock")

	first, _ := daemon.New(daemon.Options{Address: "127.0.0.1:0", LockPath: lockPath, Pipeline: h.scheduler})
	if err := first.Listen(); err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	defer first.Close()

	second, _ := daemon.New(daemon.Options{Address: "127.0.0.1:0", LockPath: lockPath, Pipeline: h.scheduler})
	err := second.Listen()
	if !errors.Is(err, daemon.ErrBind) || !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected bind/already-running error, got %v", err)
	}
}

func TestBindFailureIsReported(t *testing.T) {
	h := startDaemon(t, nil)

	other, _ := daemon.New(daemon.Options{
		Address:  h.addr,
		LockPath: filepath.Join(t.TempDir(), "other.lock"),
		Pipeline: h.scheduler,
	})
	if err := other.Listen(); !errors.Is(err, daemon.ErrBind) {
		t.Fatalf("expected ErrBind for occupied port, got %v", err)
	}
}
