package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/levalup/quickdist/pkg/log"
)

// Handler turns one request frame into one reply frame. It must not panic
// the server: panics are recovered and surfaced through ErrorReply.
type Handler func(req []byte) []byte

// ErrorReply builds the frame returned when a handler panics. The node
// server installs a codec-aware implementation; the default is the raw
// message text.
var ErrorReply = func(text string) []byte {
	return []byte(text)
}

// Rep is the multi-threaded reply server: one listening endpoint fanning
// incoming frames out to a fixed set of handler workers. Each connection
// observes strict request/reply ordering; requests from different
// connections run in parallel up to the worker count.
type Rep struct {
	ln      net.Listener
	handler Handler
	threads int

	requests chan request
	quit     chan struct{}

	mu     sync.Mutex
	closed bool

	acceptWG sync.WaitGroup
	workerWG sync.WaitGroup
}

type request struct {
	payload []byte
	reply   chan []byte
}

// ListenRep binds the listening port (0 picks an ephemeral one) and
// prepares the worker set. threads <= 0 defaults to the logical CPU count.
func ListenRep(port int, handler Handler, threads int) (*Rep, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind port %d: %w", port, err)
	}
	return &Rep{
		ln:       ln,
		handler:  handler,
		threads:  threads,
		requests: make(chan request),
		quit:     make(chan struct{}),
	}, nil
}

// Port returns the bound port.
func (r *Rep) Port() int {
	return r.ln.Addr().(*net.TCPAddr).Port
}

// Run serves until Close. It blocks the calling goroutine.
func (r *Rep) Run() {
	logger := log.WithComponent("rep")

	for i := 0; i < r.threads; i++ {
		r.workerWG.Add(1)
		go r.worker()
	}

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			select {
			case <-r.quit:
				r.acceptWG.Wait()
				close(r.requests)
				r.workerWG.Wait()
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				r.acceptWG.Wait()
				close(r.requests)
				r.workerWG.Wait()
				return
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		r.acceptWG.Add(1)
		go r.serveConn(conn)
	}
}

// worker pulls one request at a time and answers it. A handler failure is
// converted to an error reply, never a dropped frame.
func (r *Rep) worker() {
	defer r.workerWG.Done()

	for req := range r.requests {
		req.reply <- r.handle(req.payload)
	}
}

func (r *Rep) handle(payload []byte) (rep []byte) {
	defer func() {
		if p := recover(); p != nil {
			logger := log.WithComponent("rep")
			logger.Error().Interface("panic", p).Msg("handler panicked")
			rep = ErrorReply(fmt.Sprintf("handler panicked: %v", p))
		}
	}()
	return r.handler(payload)
}

// serveConn reads frames from one connection and forwards them to the
// worker set, writing each reply before reading the next request. A short
// read deadline keeps the loop responsive to shutdown.
func (r *Rep) serveConn(conn net.Conn) {
	defer r.acceptWG.Done()
	defer conn.Close()

	logger := log.WithComponent("rep")

	br := bufio.NewReader(conn)

	// The first frame is the dealer's identity announcement.
	identity, err := r.readFrame(conn, br)
	if err != nil {
		return
	}
	logger.Debug().Str("identity", string(identity)).Msg("dealer connected")

	reply := make(chan []byte, 1)
	for {
		payload, err := r.readFrame(conn, br)
		if err != nil {
			return
		}

		select {
		case r.requests <- request{payload: payload, reply: reply}:
		case <-r.quit:
			return
		}

		rep := <-reply
		if err := WriteFrame(conn, rep); err != nil {
			logger.Debug().Err(err).Str("identity", string(identity)).Msg("reply write failed")
			return
		}
	}
}

// readFrame waits for the next frame with a polling deadline so Close is
// observed between frames. The deadline only gates the wait for the first
// byte; once a frame has started, it is read to completion.
func (r *Rep) readFrame(conn net.Conn, br *bufio.Reader) ([]byte, error) {
	for {
		select {
		case <-r.quit:
			return nil, net.ErrClosed
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := br.Peek(1); err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Time{})
		return ReadFrame(br)
	}
}

// Close stops accepting, wakes the loops and waits for workers to drain.
func (r *Rep) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()

	return r.ln.Close()
}
