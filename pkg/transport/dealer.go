package transport

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Dealer is the client end of the request/reply protocol. Each dealer owns
// one connection identified by a freshly generated UUID and follows a
// strict send-then-receive discipline; concurrent exchanges on one dealer
// serialize.
type Dealer struct {
	host     string
	port     int
	identity string

	mu   sync.Mutex
	conn net.Conn
}

// Dial connects a dealer and announces its identity.
func Dial(host string, port int) (*Dealer, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s:%d: %w", host, port, err)
	}

	d := &Dealer{
		host:     host,
		port:     port,
		identity: uuid.New().String(),
		conn:     conn,
	}
	if err := WriteFrame(conn, []byte(d.identity)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to announce identity: %w", err)
	}
	return d, nil
}

// Host returns the remote host.
func (d *Dealer) Host() string { return d.host }

// Port returns the remote port.
func (d *Dealer) Port() int { return d.port }

// Identity returns the connection identity.
func (d *Dealer) Identity() string { return d.identity }

// Addr returns host:port for error reporting.
func (d *Dealer) Addr() string {
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

// Exchange performs one request/reply round trip.
func (d *Dealer) Exchange(req []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil, fmt.Errorf("dealer %s is closed", d.Addr())
	}
	if err := WriteFrame(d.conn, req); err != nil {
		return nil, fmt.Errorf("send to %s: %w", d.Addr(), err)
	}
	rep, err := ReadFrame(d.conn)
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", d.Addr(), err)
	}
	return rep, nil
}

// Close shuts the connection down.
func (d *Dealer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}
