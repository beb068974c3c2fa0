package orchestrator

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/mount"
	"github.com/levalup/quickdist/pkg/script"
)

// ErrNotSetup is returned when work is dispatched before Setup.
var ErrNotSetup = errors.New("orchestrator has no slot pool, call Setup first")

// Orchestrator connects to a set of nodes, distributes the job script and
// fans calls out across every remote worker process.
type Orchestrator struct {
	mu    sync.Mutex
	nodes []*Proxy
	pool  *slotPool
}

// New builds an empty orchestrator.
func New() *Orchestrator {
	return &Orchestrator{}
}

// Connect registers a node. Port <= 0 selects the default port.
func (o *Orchestrator) Connect(host string, port int) error {
	proxy, err := NewProxy(host, port)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.nodes = append(o.nodes, proxy)
	o.mu.Unlock()

	logger := log.WithComponent("orchestrator")
	logger.Info().Str("node", proxy.Addr()).Msg("node connected")
	return nil
}

// Nodes returns the registered node proxies.
func (o *Orchestrator) Nodes() []*Proxy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Proxy(nil), o.nodes...)
}

// Mount broadcasts a mount descriptor to every node.
func (o *Orchestrator) Mount(m mount.Mount) error {
	var g errgroup.Group
	for _, node := range o.Nodes() {
		g.Go(func() error {
			return node.Mount(m)
		})
	}
	return g.Wait()
}

// Setup ships the script to every node, learns each node's process count
// and builds the slot list: one (host, port) entry per remote worker
// process, preserving node order. Any previous slot pool is shut down.
func (o *Orchestrator) Setup(src script.Source) error {
	nodes := o.Nodes()
	if len(nodes) == 0 {
		return errors.New("has no node registered")
	}

	// Path sources are read once here so every node receives identical
	// text.
	if src.Path != "" {
		read, err := script.ReadSource(src.Path)
		if err != nil {
			return err
		}
		src = read
	}

	var slots []Slot
	for _, node := range nodes {
		if err := node.Setup(src); err != nil {
			return err
		}
		processes, err := node.Processes()
		if err != nil {
			return err
		}
		for i := 0; i < processes; i++ {
			slots = append(slots, Slot{Host: node.Host(), Port: node.Port()})
		}
		nodeLogger := log.WithNode(node.Addr())
		nodeLogger.Info().Int("processes", processes).Msg("node ready")
	}

	pool, err := newSlotPool(slots)
	if err != nil {
		return err
	}

	o.mu.Lock()
	old := o.pool
	o.pool = pool
	o.mu.Unlock()

	if old != nil {
		old.shutdown()
	}

	logger := log.WithComponent("orchestrator")
	logger.Info().Int("slots", len(slots)).Msg("fabric ready")
	return nil
}

func (o *Orchestrator) slotPool() (*slotPool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pool == nil {
		return nil, ErrNotSetup
	}
	return o.pool, nil
}

// Call invokes main once, synchronously.
func (o *Orchestrator) Call(args ...any) (any, error) {
	return o.CallKw(args, nil)
}

// CallKw invokes main with positional and keyword arguments.
func (o *Orchestrator) CallKw(args []any, kwargs map[string]any) (any, error) {
	p, err := o.slotPool()
	if err != nil {
		return nil, err
	}
	return p.submit(args, kwargs).Get()
}

// Future is the public handle for an asynchronous call.
type Future struct {
	fut *future
}

// Get waits for the call to complete.
func (f *Future) Get() (any, error) {
	return f.fut.Get()
}

// CallAsync invokes main without blocking.
func (o *Orchestrator) CallAsync(args ...any) (*Future, error) {
	p, err := o.slotPool()
	if err != nil {
		return nil, err
	}
	return &Future{fut: p.submit(args, nil)}, nil
}

// TaskResult is one element of a streamed map.
type TaskResult struct {
	Index int
	Value any
	Err   error
}

// Map runs main once per item and returns the results in input order.
func (o *Orchestrator) Map(items []any) ([]any, error) {
	p, err := o.slotPool()
	if err != nil {
		return nil, err
	}

	futs := make([]*future, len(items))
	for i, item := range items {
		futs[i] = p.submit([]any{item}, nil)
	}

	out := make([]any, len(items))
	for i, fut := range futs {
		value, err := fut.Get()
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

// IMap streams results in input order.
func (o *Orchestrator) IMap(items []any) (<-chan TaskResult, error) {
	p, err := o.slotPool()
	if err != nil {
		return nil, err
	}

	futs := make([]*future, len(items))
	for i, item := range items {
		futs[i] = p.submit([]any{item}, nil)
	}

	out := make(chan TaskResult)
	go func() {
		defer close(out)
		for i, fut := range futs {
			value, err := fut.Get()
			out <- TaskResult{Index: i, Value: value, Err: err}
		}
	}()
	return out, nil
}

// IMapUnordered streams results as they complete.
func (o *Orchestrator) IMapUnordered(items []any) (<-chan TaskResult, error) {
	p, err := o.slotPool()
	if err != nil {
		return nil, err
	}

	out := make(chan TaskResult)
	var wg sync.WaitGroup
	for i, item := range items {
		fut := p.submit([]any{item}, nil)
		wg.Add(1)
		go func(i int, fut *future) {
			defer wg.Done()
			value, err := fut.Get()
			out <- TaskResult{Index: i, Value: value, Err: err}
		}(i, fut)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close shuts down the slot pool and drops every node connection.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	pool := o.pool
	o.pool = nil
	nodes := o.nodes
	o.nodes = nil
	o.mu.Unlock()

	if pool != nil {
		pool.shutdown()
	}
	for _, node := range nodes {
		if err := node.Close(); err != nil {
			nodeLogger := log.WithNode(node.Addr())
			nodeLogger.Warn().Err(err).Msg("close failed")
		}
	}
}
