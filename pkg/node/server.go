package node

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/levalup/quickdist/pkg/file"
	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/metrics"
	"github.com/levalup/quickdist/pkg/mount"
	"github.com/levalup/quickdist/pkg/msg"
	"github.com/levalup/quickdist/pkg/pool"
	"github.com/levalup/quickdist/pkg/transport"
)

// ErrNoPool is returned for CALL before a successful SETUP.
var ErrNoPool = errors.New("no script loaded, SETUP first")

// DefaultPort is the node serving port.
const DefaultPort = transport.DefaultPort

func init() {
	// Handler panics inside the transport become protocol-level ERROR
	// replies instead of raw text frames.
	transport.ErrorReply = func(text string) []byte {
		frame, err := msg.Encode(msg.New("ERROR", text))
		if err != nil {
			return nil
		}
		return frame
	}
}

// Server answers orchestrator commands on one node: PING, INFO, SETUP,
// MOUNT and CALL. Every CALL is wrapped with the pre/post file staging
// protocol. The server's lifetime is the process lifetime; CLOSE is
// rejected.
type Server struct {
	port      int
	processes int

	rep *transport.Rep

	mu   sync.Mutex
	pool *pool.Pool

	handlers map[string]func(*msg.Message) (*msg.Message, error)
	logger   zerolog.Logger
}

// NewServer builds a node server. processes <= 0 defaults to the logical
// CPU count; it sizes the worker pool, the request worker set and the
// staging concurrency alike.
func NewServer(port, processes int) *Server {
	if processes <= 0 {
		processes = runtime.NumCPU()
	}

	s := &Server{
		port:      port,
		processes: processes,
		logger:    log.WithComponent("node"),
	}
	s.handlers = map[string]func(*msg.Message) (*msg.Message, error){
		"PING":  s.ping,
		"INFO":  s.info,
		"SETUP": s.setup,
		"CALL":  s.call,
		"MOUNT": s.mount,
	}
	return s
}

// Listen binds the serving port. Port 0 picks an ephemeral one.
func (s *Server) Listen() error {
	if err := metrics.Init(); err != nil {
		return err
	}
	rep, err := transport.ListenRep(s.port, s.handle, s.processes)
	if err != nil {
		return err
	}
	s.rep = rep
	s.logger.Info().Int("port", rep.Port()).Int("processes", s.processes).Msg("node serving")
	return nil
}

// Port returns the bound port after Listen.
func (s *Server) Port() int {
	return s.rep.Port()
}

// Run serves until Close. Call Listen first.
func (s *Server) Run() {
	s.rep.Run()
}

// ListenAndRun binds and serves.
func (s *Server) ListenAndRun() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Run()
	return nil
}

// Close stops the listener and shuts down the worker pool.
func (s *Server) Close() {
	if s.rep != nil {
		_ = s.rep.Close()
	}
	s.mu.Lock()
	p := s.pool
	s.pool = nil
	s.mu.Unlock()
	if p != nil {
		p.Shutdown()
		metrics.PoolWorkers.Set(0)
	}
}

// handle decodes one request frame and dispatches it. Nothing is silently
// swallowed: every failure becomes an ERROR reply.
func (s *Server) handle(req []byte) []byte {
	m, err := msg.Decode(req)
	if err != nil {
		return s.reply("DECODE", msg.New("ERROR", err.Error()))
	}

	cmd := strings.ToUpper(m.Cmd)

	if cmd == "CLOSE" {
		return s.reply(cmd, msg.New("ERROR", "Can not close server at current version"))
	}

	handler, ok := s.handlers[cmd]
	if !ok {
		text := fmt.Sprintf("Received unknown cmd %s", m.Cmd)
		s.logger.Error().Msg(text)
		return s.reply(cmd, msg.New("ERROR", text))
	}

	rep, err := handler(m)
	if err != nil {
		s.logger.Error().Err(err).Str("cmd", cmd).Msg("handler failed")
		return s.reply(cmd, msg.New("ERROR", err.Error()))
	}
	s.logger.Debug().Str("cmd", cmd).Str("reply", rep.Cmd).Msg("handled")
	return s.reply(cmd, rep)
}

// reply encodes the outgoing message and records the request metric.
func (s *Server) reply(cmd string, m *msg.Message) []byte {
	metrics.RequestsTotal.WithLabelValues(cmd, m.Cmd).Inc()
	frame, err := msg.Encode(m)
	if err != nil {
		// The reply itself failed to encode; answer with an ERROR carrying
		// the encoding failure instead.
		frame, _ = msg.Encode(msg.New("ERROR", err.Error()))
	}
	return frame
}

func (s *Server) ping(m *msg.Message) (*msg.Message, error) {
	return msg.New("PONG", m.Args...).WithKwargs(m.Kwargs), nil
}

func (s *Server) info(*msg.Message) (*msg.Message, error) {
	return msg.New("OK").WithKwargs(map[string]any{"processes": s.processes}), nil
}

// setup replaces the worker pool with one running the shipped script.
func (s *Server) setup(m *msg.Message) (*msg.Message, error) {
	if len(m.Args) == 0 {
		return nil, fmt.Errorf("SETUP without a script")
	}
	text, ok := m.Args[0].(string)
	if !ok {
		return nil, fmt.Errorf("SETUP script must be source text")
	}

	src := cacheScript(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		s.pool.Shutdown()
		s.pool = nil
		metrics.PoolWorkers.Set(0)
	}

	p, err := pool.New(src, s.processes)
	if err != nil {
		return nil, err
	}
	s.pool = p
	metrics.PoolWorkers.Set(float64(s.processes))

	s.logger.Info().Int("processes", s.processes).Msg("pool ready")
	return msg.New("OK"), nil
}

func (s *Server) currentPool() (*pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil, ErrNoPool
	}
	return s.pool, nil
}

// call wraps one pool invocation with the staging protocol: inputs are
// pulled origin -> local before main runs, outputs pushed local -> temp
// before the reply leaves the node.
func (s *Server) call(m *msg.Message) (*msg.Message, error) {
	p, err := s.currentPool()
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer()

	if err := s.stage(m.Args, "origin->local", (*file.File).ToLocal); err != nil {
		return nil, err
	}

	results, err := p.Call(m.Args, m.Kwargs)
	if err != nil {
		return nil, err
	}

	if err := s.stage(results, "local->temp", (*file.File).ToTemp); err != nil {
		return nil, err
	}

	timer.ObserveDuration(metrics.CallDuration)
	return msg.New("OK", results...), nil
}

// stage copies every eligible file through a bounded group and waits for
// the barrier before returning.
func (s *Server) stage(value any, direction string, op func(*file.File) error) error {
	var g errgroup.Group
	g.SetLimit(s.processes)

	for _, f := range file.Files(value) {
		if f.NoCopy {
			continue
		}
		g.Go(func() error {
			s.logger.Debug().Str("direction", direction).Str("path", f.Rel).Msg("staging")
			if err := op(f); err != nil {
				return err
			}
			metrics.StagedCopies.WithLabelValues(direction).Inc()
			return nil
		})
	}
	return g.Wait()
}

func (s *Server) mount(m *msg.Message) (*msg.Message, error) {
	if len(m.Args) == 0 {
		return nil, fmt.Errorf("MOUNT without a descriptor")
	}
	desc, ok := m.Args[0].(mount.Mount)
	if !ok {
		return nil, fmt.Errorf("unsupported mount object %T", m.Args[0])
	}
	if err := desc.Mount(); err != nil {
		return nil, err
	}
	return msg.New("OK"), nil
}
