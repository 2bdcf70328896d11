package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"songconvert/internal/logging"
	"songconvert/internal/stage"
	"songconvert/internal/wire"
	"songconvert/internal/workflow"
)

type recorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (r *recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	trimmed := strings.TrimSuffix(r.buf.String(), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func newTrackedItem(location string) (*workflow.Item, *recorder) {
	rec := &recorder{}
	return workflow.NewItem(location, wire.NewReply(rec)), rec
}

func pipeline(t *testing.T, split, reencode stage.Handler, reencodeWorkers int) *workflow.Scheduler {
	t.Helper()
	s, err := workflow.NewScheduler(logging.NewNop(),
		workflow.StageSpec{Name: "split", Handler: split, Workers: 1, Message: "Split completed."},
		workflow.StageSpec{Name: "reencode", Handler: reencode, Workers: reencodeWorkers, Message: "Reencode completed."},
	)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func ok(context.Context, string) error { return nil }

func TestQueueFIFOAndDrainAfterClose(t *testing.T) {
	q := workflow.NewQueue()
	a, _ := newTrackedItem("/a")
	b, _ := newTrackedItem("/b")
	if err := q.Push(a); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push(b); err != nil {
		t.Fatalf("push: %v", err)
	}
	q.Close()
	q.Close()

	c, _ := newTrackedItem("/c")
	if err := q.Push(c); !errors.Is(err, workflow.ErrQueueClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if got, ok := q.Pop(); !ok || got != a {
		t.Fatalf("expected first item, got %v %v", got, ok)
	}
	if got, ok := q.Pop(); !ok || got != b {
		t.Fatalf("expected second item, got %v %v", got, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected drained queue")
	}
}

func TestQueuePopBlocksUntilPushOrClose(t *testing.T) {
	q := workflow.NewQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	select {
	case <-done:
		t.Fatal("Pop returned before any signal")
	case <-time.After(50 * time.Millisecond):
	}
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected drained signal")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake on Close")
	}
}

func TestSchedulerSuccessfulItemGetsOrderedMessages(t *testing.T) {
	s := pipeline(t, stage.Func(ok), stage.Func(ok), 2)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	item, rec := newTrackedItem("/songs/one")
	if err := s.Submit(item); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s.Shutdown()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got := strings.Join(rec.lines(), "|")
	if got != "Split completed.|Reencode completed.|OK" {
		t.Fatalf("unexpected reply stream %q", got)
	}
	if !rec.closed {
		t.Fatal("expected reply to be closed")
	}
}

func TestSameFolderSubmittedTwiceRunsOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	reencode := stage.Func(func(ctx context.Context, location string) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})
	s := pipeline(t, stage.Func(ok), reencode, 2)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, firstRec := newTrackedItem("/songs/same")
	second, secondRec := newTrackedItem("/songs/same/")
	if err := s.Submit(first); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	if err := s.Submit(second); err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	s.Shutdown()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if maxSeen != 1 {
		t.Fatalf("same folder handled by %d workers at once, want 1", maxSeen)
	}
	for name, rec := range map[string]*recorder{"first": firstRec, "second": secondRec} {
		lines := rec.lines()
		if len(lines) == 0 || lines[len(lines)-1] != "OK" {
			t.Fatalf("%s reply stream %q, want OK", name, strings.Join(lines, "|"))
		}
	}
}

func TestSchedulerShutdownDrainsEveryAcceptedItem(t *testing.T) {
	slow := stage.Func(func(ctx context.Context, _ string) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	s := pipeline(t, slow, slow, 2)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const k = 8
	recs := make([]*recorder, 0, k)
	for i := 0; i < k; i++ {
		item, rec := newTrackedItem("/songs/" + string(rune('a'+i)))
		if err := s.Submit(item); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		recs = append(recs, rec)
	}
	s.Shutdown()

	late, _ := newTrackedItem("/songs/late")
	if err := s.Submit(late); !errors.Is(err, workflow.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	for i, rec := range recs {
		lines := rec.lines()
		terminals := 0
		for _, line := range lines {
			if wire.IsTerminal(line) {
				terminals++
			}
		}
		if terminals != 1 || lines[len(lines)-1] != wire.TokenOK {
			t.Fatalf("item %d: expected exactly one trailing OK, got %v", i, lines)
		}
	}

	stats := s.Stats()
	if len(stats) != 2 || stats[0].Processed != k || stats[1].Processed != k {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	split := stage.Func(func(_ context.Context, location string) error {
		if strings.HasSuffix(location, "bad") {
			return errors.New("demucs exploded")
		}
		return nil
	})
	s := pipeline(t, split, stage.Func(ok), 2)

	var mu sync.Mutex
	outcomes := map[string]workflow.Outcome{}
	s.OnComplete(func(_ context.Context, o workflow.Outcome) {
		mu.Lock()
		outcomes[o.Item.Location] = o
		mu.Unlock()
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bad, badRec := newTrackedItem("/songs/bad")
	good, goodRec := newTrackedItem("/songs/good")
	_ = s.Submit(bad)
	_ = s.Submit(good)
	s.Shutdown()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := strings.Join(badRec.lines(), "|"); got != "ERROR" {
		t.Fatalf("failed item stream %q", got)
	}
	if got := strings.Join(goodRec.lines(), "|"); got != "Split completed.|Reencode completed.|OK" {
		t.Fatalf("good item stream %q", got)
	}
	if o := outcomes["/songs/bad"]; o.Succeeded() || o.Stage != "split" {
		t.Fatalf("unexpected failure outcome %+v", o)
	}
	if o := outcomes["/songs/good"]; !o.Succeeded() || o.Stage != "reencode" {
		t.Fatalf("unexpected success outcome %+v", o)
	}
	if stats := s.Stats(); stats[0].Failed != 1 || stats[1].Processed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSchedulerRecoversHandlerPanic(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	reencode := stage.Func(func(_ context.Context, location string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		if strings.HasSuffix(location, "panic") {
			panic("nil pointer in ffprobe output")
		}
		return nil
	})
	s := pipeline(t, stage.Func(ok), reencode, 1)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	boom, boomRec := newTrackedItem("/songs/panic")
	fine, fineRec := newTrackedItem("/songs/fine")
	_ = s.Submit(boom)
	_ = s.Submit(fine)
	s.Shutdown()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := strings.Join(boomRec.lines(), "|"); got != "Split completed.|ERROR" {
		t.Fatalf("panicking item stream %q", got)
	}
	if got := strings.Join(fineRec.lines(), "|"); got != "Split completed.|Reencode completed.|OK" {
		t.Fatalf("following item stream %q", got)
	}
	if calls != 2 {
		t.Fatalf("expected worker to survive the panic, calls=%d", calls)
	}
}

func TestSingleWorkerStagePreservesArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	split := stage.Func(func(_ context.Context, location string) error {
		mu.Lock()
		order = append(order, location)
		mu.Unlock()
		return nil
	})
	s := pipeline(t, split, stage.Func(ok), 2)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []string{"/1", "/2", "/3", "/4", "/5", "/6"}
	for _, loc := range want {
		item, _ := newTrackedItem(loc)
		if err := s.Submit(item); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	s.Shutdown()
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("split order %v, want %v", order, want)
	}
}

func TestDownstreamStageWithManyWorkersStops(t *testing.T) {
	s, err := workflow.NewScheduler(nil,
		workflow.StageSpec{Name: "a", Handler: stage.Func(ok), Workers: 3},
		workflow.StageSpec{Name: "b", Handler: stage.Func(ok), Workers: 4},
		workflow.StageSpec{Name: "c", Handler: stage.Func(ok), Workers: 2},
	)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 10; i++ {
		item, _ := newTrackedItem("/x")
		_ = s.Submit(item)
	}
	s.Shutdown()

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after shutdown")
	}
	for _, st := range s.Stats() {
		if st.Processed != 10 {
			t.Fatalf("stage %s processed %d, want 10", st.Name, st.Processed)
		}
	}
}

func TestSchedulersAreIndependent(t *testing.T) {
	first := pipeline(t, stage.Func(ok), stage.Func(ok), 1)
	second := pipeline(t, stage.Func(ok), stage.Func(ok), 1)
	_ = first.Start(context.Background())
	_ = second.Start(context.Background())

	first.Shutdown()
	if err := first.Wait(); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	item, rec := newTrackedItem("/still-open")
	if err := second.Submit(item); err != nil {
		t.Fatalf("second scheduler should still accept work: %v", err)
	}
	second.Shutdown()
	_ = second.Wait()
	if lines := rec.lines(); len(lines) == 0 || lines[len(lines)-1] != wire.TokenOK {
		t.Fatalf("unexpected stream %v", lines)
	}
}

func TestNewSchedulerValidatesSpecs(t *testing.T) {
	if _, err := workflow.NewScheduler(nil); err == nil {
		t.Fatal("expected error for empty pipeline")
	}
	if _, err := workflow.NewScheduler(nil, workflow.StageSpec{Name: "split", Handler: stage.Func(ok)}); err == nil {
		t.Fatal("expected error for zero workers")
	}
	if _, err := workflow.NewScheduler(nil,
		workflow.StageSpec{Name: "split", Handler: stage.Func(ok), Workers: 1},
		workflow.StageSpec{Name: "split", Handler: stage.Func(ok), Workers: 1},
	); err == nil {
		t.Fatal("expected error for duplicate stage names")
	}
	s := pipeline(t, stage.Func(ok), stage.Func(ok), 1)
	if err := s.Wait(); !errors.Is(err, workflow.ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if health := s.Health(context.Background()); len(health) != 2 || health[0].Name != "split" {
		t.Fatalf("unexpected health %+v", health)
	}
}
