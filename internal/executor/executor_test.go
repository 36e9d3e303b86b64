package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/conductor/internal/clock"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

// recorder captures the order in which sends start and their outcomes.
type recorder struct {
	mu      sync.Mutex
	started []string
	results map[string]error
}

func newRecorder() *recorder {
	return &recorder{results: make(map[string]error)}
}

func (r *recorder) start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
}

func (r *recorder) onResult(cmd Command, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[cmd.Context] = err
}

func (r *recorder) startedOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.started))
	copy(out, r.started)
	return out
}

func salvoCmd(name string) Command {
	return Command{Context: name, Payload: name}
}

func seqCmd(name string) Command {
	return Command{Context: name, Payload: name, Mode: ModeSequential}
}

func batchOf(prefix string) []Command {
	return []Command{
		salvoCmd(prefix + "-salvo"),
		salvoCmd(prefix + "-salvo"),
		salvoCmd(prefix + "-salvo"),
		seqCmd(prefix + "-seq0"),
		seqCmd(prefix + "-seq1"),
		seqCmd(prefix + "-seq2"),
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestExecutor_CrossBatchOrdering(t *testing.T) {
	rec := newRecorder()
	exec := New(Config{
		Send: func(_ context.Context, cmd Command) error {
			rec.start(cmd.Context)
			if cmd.IsSequential() {
				time.Sleep(100 * time.Millisecond)
			} else {
				time.Sleep(20 * time.Millisecond)
			}
			return nil
		},
		OnResult: rec.onResult,
	})

	ctx := context.Background()
	b1 := exec.Execute(ctx, batchOf("b1"))
	time.Sleep(50 * time.Millisecond)
	b2 := exec.Execute(ctx, batchOf("b2"))

	require.NoError(t, b1.Wait(ctx))
	require.NoError(t, b2.Wait(ctx))

	want := []string{
		"b1-salvo", "b1-salvo", "b1-salvo",
		"b1-seq0",
		"b2-salvo", "b2-salvo", "b2-salvo",
		"b1-seq1",
		"b1-seq2",
		"b2-seq0", "b2-seq1", "b2-seq2",
	}
	assert.Equal(t, want, rec.startedOrder())
}

func TestExecutor_SalvoWaitsOnlyForPreviousSalvo(t *testing.T) {
	release := make(chan struct{})
	rec := newRecorder()
	exec := New(Config{
		Send: func(_ context.Context, cmd Command) error {
			rec.start(cmd.Context)
			if cmd.Context == "b1-seq" {
				<-release
			}
			return nil
		},
	})

	ctx := context.Background()
	b1 := exec.Execute(ctx, []Command{salvoCmd("b1-salvo"), seqCmd("b1-seq")})
	require.NoError(t, b1.WaitIssued(ctx))

	b2 := exec.Execute(ctx, []Command{salvoCmd("b2-salvo"), seqCmd("b2-seq")})
	require.NoError(t, b2.WaitIssued(ctx), "salvo must not wait for previous sequential phase")

	assert.NotContains(t, rec.startedOrder(), "b2-seq", "sequential must wait for previous sequential phase")

	close(release)
	require.NoError(t, b2.Wait(ctx))
	assert.Equal(t, "b2-seq", rec.startedOrder()[len(rec.startedOrder())-1])
}

func TestExecutor_IndependentQueues(t *testing.T) {
	release := make(chan struct{})
	rec := newRecorder()
	exec := New(Config{
		Send: func(_ context.Context, cmd Command) error {
			rec.start(cmd.Context)
			if cmd.Context == "a1" {
				<-release
			}
			return nil
		},
	})

	ctx := context.Background()
	batch := exec.Execute(ctx, []Command{
		{Context: "a1", Mode: ModeSequential, QueueID: "a"},
		{Context: "a2", Mode: ModeSequential, QueueID: "a"},
		{Context: "b1", Mode: ModeSequential, QueueID: "b"},
		{Context: "b2", Mode: ModeSequential, QueueID: "b"},
	})

	require.Eventually(t, func() bool {
		order := rec.startedOrder()
		return len(order) == 3
	}, time.Second, 5*time.Millisecond, "queue b should finish while queue a is blocked")
	assert.NotContains(t, rec.startedOrder(), "a2")

	close(release)
	require.NoError(t, batch.Wait(ctx))
	assert.Len(t, rec.startedOrder(), 4)
}

func TestExecutor_FailureIsolation(t *testing.T) {
	rec := newRecorder()
	exec := New(Config{
		Send: func(_ context.Context, cmd Command) error {
			rec.start(cmd.Context)
			switch cmd.Context {
			case "fail":
				return errors.New("device rejected command")
			case "panic":
				panic("protocol bug")
			}
			return nil
		},
		OnResult: rec.onResult,
	})

	ctx := context.Background()
	b1 := exec.Execute(ctx, []Command{
		salvoCmd("fail"), salvoCmd("ok-salvo"),
		seqCmd("panic"), seqCmd("ok-seq"),
	})
	b2 := exec.Execute(ctx, []Command{salvoCmd("next")})

	require.NoError(t, b1.Wait(ctx))
	require.NoError(t, b2.Wait(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Error(t, rec.results["fail"])
	assert.ErrorIs(t, rec.results["panic"], ErrSendPanic)
	assert.NoError(t, rec.results["ok-salvo"])
	assert.NoError(t, rec.results["ok-seq"])
	assert.NoError(t, rec.results["next"])
}

func TestExecutor_Preliminary(t *testing.T) {
	fake := clock.Fake(time.UnixMilli(10000))
	sent := make(chan string, 4)
	exec := New(Config{
		Clock: fake,
		Send: func(_ context.Context, cmd Command) error {
			sent <- fmt.Sprintf("%s@%d", cmd.Context, fake.Now().UnixMilli())
			return nil
		},
	})

	ctx := context.Background()
	batch := exec.Execute(ctx, []Command{
		{Context: "early", Preliminary: 100 * time.Millisecond},
		{Context: "late"},
	})

	assert.Equal(t, "early@10000", <-sent)
	fake.WaitForTimers(1)
	select {
	case s := <-sent:
		t.Fatalf("late command sent before its offset: %s", s)
	default:
	}

	fake.Advance(100 * time.Millisecond)
	assert.Equal(t, "late@10100", <-sent)
	require.NoError(t, batch.Wait(ctx))
}

func TestExecutor_CancelledContext(t *testing.T) {
	rec := newRecorder()
	exec := New(Config{
		Send: func(_ context.Context, cmd Command) error {
			rec.start(cmd.Context)
			return nil
		},
		OnResult: rec.onResult,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := exec.Execute(ctx, []Command{salvoCmd("a"), seqCmd("b")})
	require.NoError(t, batch.Wait(context.Background()))

	assert.Empty(t, rec.startedOrder())
	rec.mu.Lock()
	assert.ErrorIs(t, rec.results["a"], context.Canceled)
	assert.ErrorIs(t, rec.results["b"], context.Canceled)
	rec.mu.Unlock()

	// Barriers were released, so later batches still run.
	next := exec.Execute(context.Background(), []Command{seqCmd("c")})
	require.NoError(t, next.Wait(context.Background()))
	assert.Equal(t, []string{"c"}, rec.startedOrder())
}

func TestExecutor_EmptyBatch(t *testing.T) {
	exec := New(Config{Send: func(context.Context, Command) error { return nil }})
	batch := exec.Execute(context.Background(), nil)

	select {
	case <-batch.Done():
	default:
		t.Fatal("empty batch should be done immediately")
	}
}

func TestExecutor_AssignsIDs(t *testing.T) {
	ids := make(chan string, 1)
	exec := New(Config{Send: func(_ context.Context, cmd Command) error {
		ids <- cmd.ID
		return nil
	}})
	require.NoError(t, exec.Execute(context.Background(), []Command{salvoCmd("x")}).Wait(context.Background()))
	assert.NotEmpty(t, <-ids)
}

func TestExecutor_Close(t *testing.T) {
	rec := newRecorder()
	exec := New(Config{
		Send:     func(context.Context, Command) error { return nil },
		OnResult: rec.onResult,
	})
	require.NoError(t, exec.Close(context.Background()))

	batch := exec.Execute(context.Background(), []Command{salvoCmd("late")})
	require.NoError(t, batch.Wait(context.Background()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ErrorIs(t, rec.results["late"], ErrClosed)
}

func TestExecutor_PrunesBarriers(t *testing.T) {
	exec := New(Config{Send: func(context.Context, Command) error { return nil }})
	ctx := context.Background()
	require.NoError(t, exec.Execute(ctx, []Command{
		salvoCmd("a"),
		{Context: "b", Mode: ModeSequential, QueueID: "q1"},
	}).Wait(ctx))

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.lastSalvo == nil && len(exec.lastSeq) == 0
	}, time.Second, 5*time.Millisecond)
}
