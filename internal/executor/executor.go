package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/conductor/internal/clock"
)

// SendFunc delivers one command to the device.
type SendFunc func(ctx context.Context, cmd Command) error

// ResultFunc receives the outcome of every dispatched command.
type ResultFunc func(cmd Command, err error, duration time.Duration)

// Logger defines the logging interface used by the executor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds executor dependencies.
type Config struct {
	// Send delivers a command. Required.
	Send SendFunc

	// OnResult is called once per command after its send returns.
	OnResult ResultFunc

	// Clock times lead-time offsets. Defaults to the real clock.
	Clock clock.Clock

	Logger Logger
}

// Executor dispatches command batches for one device.
type Executor struct {
	send     SendFunc
	onResult ResultFunc
	clock    clock.Clock
	logger   Logger

	mu        sync.Mutex
	lastSalvo chan struct{}
	lastSeq   map[string]chan struct{}
	closed    bool
	inflight  sync.WaitGroup
}

// New creates an Executor.
func New(cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.OnResult == nil {
		cfg.OnResult = func(Command, error, time.Duration) {}
	}
	return &Executor{
		send:     cfg.Send,
		onResult: cfg.OnResult,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		lastSeq:  make(map[string]chan struct{}),
	}
}

// Batch tracks one Execute call.
type Batch struct {
	issued chan struct{}
	done   chan struct{}
}

// Issued is closed when the batch's salvo phase has finished.
func (b *Batch) Issued() <-chan struct{} { return b.issued }

// Done is closed when every phase of the batch has finished.
func (b *Batch) Done() <-chan struct{} { return b.done }

// WaitIssued blocks until the salvo phase has finished or ctx is done.
func (b *Batch) WaitIssued(ctx context.Context) error {
	select {
	case <-b.issued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every phase has finished or ctx is done.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func finishedBatch() *Batch {
	b := &Batch{issued: make(chan struct{}), done: make(chan struct{})}
	close(b.issued)
	close(b.done)
	return b
}

// Execute dispatches cmds and returns immediately. Barriers against
// earlier batches are taken in call order.
//
// Cancelling ctx skips commands that have not been sent yet; their
// results report ctx.Err(). Barriers are always released.
func (e *Executor) Execute(ctx context.Context, cmds []Command) *Batch {
	if len(cmds) == 0 {
		return finishedBatch()
	}

	var salvo []Command
	var queueOrder []string
	queues := make(map[string][]Command)
	for _, cmd := range cmds {
		if cmd.ID == "" {
			cmd.ID = uuid.NewString()
		}
		if !cmd.IsSequential() {
			salvo = append(salvo, cmd)
			continue
		}
		q := cmd.Queue()
		if _, ok := queues[q]; !ok {
			queueOrder = append(queueOrder, q)
		}
		queues[q] = append(queues[q], cmd)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		for _, cmd := range cmds {
			e.onResult(cmd, ErrClosed, 0)
		}
		return finishedBatch()
	}

	prevSalvo := e.lastSalvo
	salvoDone := make(chan struct{})
	e.lastSalvo = salvoDone

	type seqPhase struct {
		queue string
		prev  chan struct{}
		done  chan struct{}
	}
	phases := make([]seqPhase, 0, len(queueOrder))
	for _, q := range queueOrder {
		done := make(chan struct{})
		phases = append(phases, seqPhase{queue: q, prev: e.lastSeq[q], done: done})
		e.lastSeq[q] = done
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	batch := &Batch{issued: make(chan struct{}), done: make(chan struct{})}
	maxPrelim := MaxPreliminary(cmds)

	// reference is set when the salvo phase starts; sequential phases read
	// it only after salvoDone is closed.
	var reference time.Time

	var phasesWG sync.WaitGroup
	phasesWG.Add(1 + len(phases))

	go func() {
		defer phasesWG.Done()
		wait(prevSalvo)
		reference = e.clock.Now()
		e.runSalvo(ctx, salvo, reference, maxPrelim)
		e.release(salvoDone, "")
		close(batch.issued)
	}()

	for _, ph := range phases {
		go func() {
			defer phasesWG.Done()
			wait(salvoDone)
			wait(ph.prev)
			e.runSequential(ctx, queues[ph.queue], reference, maxPrelim)
			e.release(ph.done, ph.queue)
		}()
	}

	go func() {
		phasesWG.Wait()
		close(batch.done)
		e.inflight.Done()
	}()

	return batch
}

// Drain waits for every batch in flight, or until ctx is done.
func (e *Executor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further batches and waits for those in flight.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.Drain(ctx)
}

func (e *Executor) runSalvo(ctx context.Context, cmds []Command, reference time.Time, maxPrelim time.Duration) {
	var wg sync.WaitGroup
	for _, cmd := range cmds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.waitUntil(ctx, reference.Add(maxPrelim-cmd.Preliminary)); err != nil {
				e.onResult(cmd, err, 0)
				return
			}
			e.dispatch(ctx, cmd)
		}()
	}
	wg.Wait()
}

func (e *Executor) runSequential(ctx context.Context, cmds []Command, reference time.Time, maxPrelim time.Duration) {
	for _, cmd := range cmds {
		if err := e.waitUntil(ctx, reference.Add(maxPrelim-cmd.Preliminary)); err != nil {
			e.onResult(cmd, err, 0)
			continue
		}
		e.dispatch(ctx, cmd)
	}
}

// dispatch sends one command and reports its outcome.
func (e *Executor) dispatch(ctx context.Context, cmd Command) {
	start := e.clock.Now()
	err := e.safeSend(ctx, cmd)
	duration := e.clock.Now().Sub(start)

	if err != nil {
		e.logger.Warn("command failed",
			"command_id", cmd.ID,
			"context", cmd.Context,
			"timeline_obj_id", cmd.TimelineObjID,
			"error", err,
		)
	}
	e.onResult(cmd, err, duration)
}

func (e *Executor) safeSend(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSendPanic, r)
		}
	}()
	return e.send(ctx, cmd)
}

// waitUntil waits for the clock to reach t.
func (e *Executor) waitUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := t.Sub(e.clock.Now())
	if d <= 0 {
		return nil
	}
	select {
	case <-e.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release closes a phase barrier and forgets it if no later batch has
// replaced it.
func (e *Executor) release(done chan struct{}, queue string) {
	close(done)

	e.mu.Lock()
	defer e.mu.Unlock()
	if queue == "" {
		if e.lastSalvo == done {
			e.lastSalvo = nil
		}
		return
	}
	if e.lastSeq[queue] == done {
		delete(e.lastSeq, queue)
	}
}

// wait blocks until ch is closed. A nil channel means no barrier.
func wait(ch chan struct{}) {
	if ch != nil {
		<-ch
	}
}
