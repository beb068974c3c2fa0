package pool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/msg"
	"github.com/levalup/quickdist/pkg/script"
)

// ErrPoolClosed is returned for submissions after Shutdown.
var ErrPoolClosed = errors.New("pool is shut down")

// Pool runs a user script in a set of spawned worker processes. Workers are
// fresh children of the current executable, so they never inherit the
// server's sockets or interpreter state. Slot indices are handed out from a
// monotonic counter and exported to each child as PROCESS_ID/PID.
type Pool struct {
	size   int
	serial atomic.Int64

	workers []*worker

	// Unbounded task queue: work submitted before Shutdown is always
	// executed, and CallAsync never blocks on a busy pool.
	mu     sync.Mutex
	notify *sync.Cond
	queue  []*task
	closed bool

	wg sync.WaitGroup
}

type task struct {
	args   []any
	kwargs map[string]any
	fut    *Future
}

// worker owns one child process. Only its dispatch goroutine touches the
// pipes, so round trips need no locking.
type worker struct {
	slot   int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// New spawns size workers, ships them the script and waits for every
// worker's load+init handshake. A script without a callable main fails
// construction.
func New(src script.Source, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size %d is not positive", size)
	}

	p := &Pool{size: size}
	p.notify = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		w, err := p.spawn(src)
		if err != nil {
			p.kill()
			return nil, err
		}
		p.workers = append(p.workers, w)
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.dispatch(w)
	}
	return p, nil
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

// spawn forks one worker child and completes the INIT handshake.
func (p *Pool) spawn(src script.Source) (*worker, error) {
	slot := int(p.serial.Add(1) - 1)

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		WorkerEnv+"=1",
		fmt.Sprintf("PROCESS_ID=%d", slot),
		fmt.Sprintf("PID=%d", slot),
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn worker: %w", err)
	}

	w := &worker{slot: slot, cmd: cmd, stdin: stdin, stdout: stdout}

	init := msg.New("INIT").WithKwargs(map[string]any{
		"path": src.Path,
		"text": src.Text,
		"slot": slot,
	})
	rep, err := w.roundTrip(init)
	if err != nil {
		w.stop()
		return nil, fmt.Errorf("worker %d failed to start: %w", slot, err)
	}
	if !rep.OK() {
		w.stop()
		return nil, fmt.Errorf("worker %d: %w", slot, rep.Error())
	}

	logger := log.WithSlot(slot)
	logger.Debug().Int("pid", cmd.Process.Pid).Msg("worker spawned")
	return w, nil
}

func (w *worker) roundTrip(m *msg.Message) (*msg.Message, error) {
	if err := writeMessage(w.stdin, m); err != nil {
		return nil, err
	}
	return readMessage(w.stdout)
}

func (w *worker) stop() {
	_ = w.stdin.Close()
	_ = w.cmd.Process.Kill()
	_ = w.cmd.Wait()
}

// next blocks until a task is available or the queue is closed and drained.
func (p *Pool) next() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.notify.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t, true
}

// dispatch pulls tasks for one worker. A crashed worker keeps failing the
// tasks routed to it; it is not respawned.
func (p *Pool) dispatch(w *worker) {
	defer p.wg.Done()

	for {
		t, ok := p.next()
		if !ok {
			return
		}
		call := msg.New("CALL", t.args...).WithKwargs(t.kwargs)
		rep, err := w.roundTrip(call)
		switch {
		case err != nil:
			t.fut.fail(fmt.Errorf("worker %d: %w", w.slot, err))
		case !rep.OK():
			t.fut.fail(rep.Error())
		default:
			t.fut.resolve(rep.Args)
		}
	}
}

func (p *Pool) submit(args []any, kwargs map[string]any) *Future {
	fut := newFuture()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		fut.fail(ErrPoolClosed)
		return fut
	}
	p.queue = append(p.queue, &task{args: args, kwargs: kwargs, fut: fut})
	p.notify.Signal()
	return fut
}

// Call runs main synchronously and returns the result tuple.
func (p *Pool) Call(args []any, kwargs map[string]any) ([]any, error) {
	return p.submit(args, kwargs).Get()
}

// CallAsync runs main without blocking.
func (p *Pool) CallAsync(args []any, kwargs map[string]any) *Future {
	return p.submit(args, kwargs)
}

// Map runs main once per item and returns results in input order.
func (p *Pool) Map(items []any) ([][]any, error) {
	futs := make([]*Future, len(items))
	for i, item := range items {
		futs[i] = p.submit([]any{item}, nil)
	}

	out := make([][]any, len(items))
	for i, fut := range futs {
		results, err := fut.Get()
		if err != nil {
			return nil, err
		}
		out[i] = results
	}
	return out, nil
}

// Result is one element of a streamed map.
type Result struct {
	Index int
	Value []any
	Err   error
}

// IMap streams results in input order.
func (p *Pool) IMap(items []any) <-chan Result {
	futs := make([]*Future, len(items))
	for i, item := range items {
		futs[i] = p.submit([]any{item}, nil)
	}

	out := make(chan Result)
	go func() {
		defer close(out)
		for i, fut := range futs {
			value, err := fut.Get()
			out <- Result{Index: i, Value: value, Err: err}
		}
	}()
	return out
}

// IMapUnordered streams results as they complete.
func (p *Pool) IMapUnordered(items []any) <-chan Result {
	out := make(chan Result)
	var wg sync.WaitGroup

	for i, item := range items {
		fut := p.submit([]any{item}, nil)
		wg.Add(1)
		go func(i int, fut *Future) {
			defer wg.Done()
			value, err := fut.Get()
			out <- Result{Index: i, Value: value, Err: err}
		}(i, fut)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Shutdown closes the pool to new submissions, drains in-flight work and
// terminates the workers.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.notify.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	for _, w := range p.workers {
		if rep, err := w.roundTrip(msg.New("EXIT")); err == nil && rep.OK() {
			_ = w.stdin.Close()
			_ = w.cmd.Wait()
			continue
		}
		w.stop()
	}
}

func (p *Pool) kill() {
	for _, w := range p.workers {
		w.stop()
	}
}
