package orchestrator

import (
	"fmt"

	"github.com/levalup/quickdist/pkg/log"
	"github.com/levalup/quickdist/pkg/mount"
	"github.com/levalup/quickdist/pkg/msg"
	"github.com/levalup/quickdist/pkg/script"
	"github.com/levalup/quickdist/pkg/transport"
)

// Proxy is the orchestrator's handle to one node: a single dealer plus the
// command helpers built on it.
type Proxy struct {
	dealer *transport.Dealer
}

// NewProxy connects to a node.
func NewProxy(host string, port int) (*Proxy, error) {
	if port <= 0 {
		port = transport.DefaultPort
	}
	dealer, err := transport.Dial(host, port)
	if err != nil {
		return nil, err
	}
	return &Proxy{dealer: dealer}, nil
}

// Host returns the node host.
func (p *Proxy) Host() string { return p.dealer.Host() }

// Port returns the node port.
func (p *Proxy) Port() int { return p.dealer.Port() }

// Addr returns host:port.
func (p *Proxy) Addr() string { return p.dealer.Addr() }

// Close drops the connection.
func (p *Proxy) Close() error { return p.dealer.Close() }

func (p *Proxy) send(m *msg.Message) (*msg.Message, error) {
	req, err := msg.Encode(m)
	if err != nil {
		return nil, err
	}
	rep, err := p.dealer.Exchange(req)
	if err != nil {
		return nil, err
	}
	return msg.Decode(rep)
}

// expectOK sends and fails on any non-OK reply.
func (p *Proxy) expectOK(m *msg.Message) (*msg.Message, error) {
	rep, err := p.send(m)
	if err != nil {
		return nil, err
	}
	if !rep.OK() {
		logger := log.WithNode(p.Addr())
		logger.Error().Stringer("reply", rep).Msg("command rejected")
		return nil, fmt.Errorf("%s rejected by %s: %w", m.Cmd, p.Addr(), rep.Error())
	}
	return rep, nil
}

// Ping round-trips arbitrary arguments.
func (p *Proxy) Ping(args ...any) (*msg.Message, error) {
	return p.send(msg.New("PING", args...))
}

// Info asks the node for its advertised properties.
func (p *Proxy) Info() (map[string]any, error) {
	rep, err := p.expectOK(msg.New("INFO"))
	if err != nil {
		return nil, err
	}
	return rep.Kwargs, nil
}

// Processes reads the node's worker process count.
func (p *Proxy) Processes() (int, error) {
	info, err := p.Info()
	if err != nil {
		return 0, err
	}
	if n, ok := info["processes"].(int64); ok && n > 0 {
		return int(n), nil
	}
	return 1, nil
}

// Setup ships the script to the node. Path sources are read locally and
// shipped as text.
func (p *Proxy) Setup(src script.Source) error {
	if src.Path != "" {
		read, err := script.ReadSource(src.Path)
		if err != nil {
			return err
		}
		src = read
	}
	_, err := p.expectOK(msg.New("SETUP", src.Text))
	return err
}

// Mount ships a mount descriptor to the node.
func (p *Proxy) Mount(m mount.Mount) error {
	_, err := p.expectOK(msg.New("MOUNT", m))
	return err
}

// Call forwards one raw CALL and returns the reply unchecked; the slot
// pool interprets it.
func (p *Proxy) Call(args []any, kwargs map[string]any) (*msg.Message, error) {
	return p.send(msg.New("CALL", args...).WithKwargs(kwargs))
}
