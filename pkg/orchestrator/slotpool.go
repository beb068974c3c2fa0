package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/levalup/quickdist/pkg/file"
	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/msg"
	"github.com/levalup/quickdist/pkg/transport"
)

// ErrPoolClosed is returned for submissions after the slot pool shut down.
var ErrPoolClosed = errors.New("slot pool is shut down")

// Slot addresses one remote worker process.
type Slot struct {
	Host string
	Port int
}

// slotPool fans calls out across remote worker processes. It runs one
// local worker per slot; worker serial mod len(slots) picks the slot, so
// every local worker owns exactly one dealer and every remote process has
// exactly one local counterpart. Dealers are stateful request/reply
// sockets; the 1:1 pinning is what keeps replies from interleaving.
type slotPool struct {
	slots  []Slot
	serial atomic.Int64

	// Unbounded task queue shared by the slot workers.
	mu     sync.Mutex
	notify *sync.Cond
	queue  []*slotTask
	closed bool

	wg sync.WaitGroup
}

type slotTask struct {
	args   []any
	kwargs map[string]any
	fut    *future
}

// future resolves to a single call result.
type future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(value any) {
	f.value = value
	close(f.done)
}

func (f *future) fail(err error) {
	f.err = err
	close(f.done)
}

// Get waits for the call to complete.
func (f *future) Get() (any, error) {
	<-f.done
	return f.value, f.err
}

func newSlotPool(slots []Slot) (*slotPool, error) {
	if len(slots) == 0 {
		return nil, errors.New("slot list is empty")
	}

	p := &slotPool{slots: slots}
	p.notify = sync.NewCond(&p.mu)

	dealers := make([]*transport.Dealer, 0, len(slots))
	for range slots {
		serial := int(p.serial.Add(1) - 1)
		idx := serial % len(slots)
		if idx < 0 {
			idx += len(slots)
		}
		d, err := transport.Dial(slots[idx].Host, slots[idx].Port)
		if err != nil {
			for _, open := range dealers {
				_ = open.Close()
			}
			return nil, fmt.Errorf("failed to open slot %d: %w", idx, err)
		}
		dealers = append(dealers, d)
	}

	for _, d := range dealers {
		p.wg.Add(1)
		go p.work(d)
	}
	return p, nil
}

// next blocks until a task is available or the queue is closed and drained.
func (p *slotPool) next() (*slotTask, bool) {
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

// work is one local worker: one owned dealer, one synchronous RPC at a
// time, then origin staging of the reply's files.
func (p *slotPool) work(dealer *transport.Dealer) {
	defer p.wg.Done()
	defer dealer.Close()

	for {
		t, ok := p.next()
		if !ok {
			return
		}
		value, err := p.exchange(dealer, t)
		if err != nil {
			t.fut.fail(err)
			continue
		}
		t.fut.resolve(value)
	}
}

func (p *slotPool) exchange(dealer *transport.Dealer, t *slotTask) (any, error) {
	req, err := msg.Encode(msg.New("CALL", t.args...).WithKwargs(t.kwargs))
	if err != nil {
		return nil, err
	}
	frame, err := dealer.Exchange(req)
	if err != nil {
		return nil, err
	}
	rep, err := msg.Decode(frame)
	if err != nil {
		return nil, err
	}
	if !rep.OK() {
		logger := log.WithNode(dealer.Addr())
		logger.Error().Stringer("reply", rep).Msg("call failed")
		return nil, fmt.Errorf("%s on %s", rep, dealer.Addr())
	}

	// Propagate produced files from the node's staging tier back into the
	// authoritative workdir.
	for _, f := range file.Files(rep.Args) {
		if f.NoCopy {
			continue
		}
		if err := f.ToOrigin(); err != nil {
			return nil, err
		}
	}

	if len(rep.Args) == 1 {
		return rep.Args[0], nil
	}
	return rep.Args, nil
}

func (p *slotPool) submit(args []any, kwargs map[string]any) *future {
	fut := newFuture()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		fut.fail(ErrPoolClosed)
		return fut
	}
	p.queue = append(p.queue, &slotTask{args: args, kwargs: kwargs, fut: fut})
	p.notify.Signal()
	return fut
}

// shutdown closes submissions and waits for queued calls to drain.
func (p *slotPool) shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.notify.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}
