package transport

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnknownAddr reports a send to an address no listener currently owns.
var ErrUnknownAddr = errors.New("transport: no listener for address")

// Sender delivers raw bytes to one remote address. TCP connections and the
// UDP listener both implement it; the dispatch pipeline never learns which
// transport a client arrived over.
type Sender interface {
	Send(addr string, data []byte) error
}

// Pool is the registry of active listeners keyed by the remote address they
// own. The outbound loop resolves every delivery through it.
type Pool struct {
	logger *logrus.Logger

	mu      sync.Mutex
	senders map[string]Sender
}

// NewPool creates an empty listener registry.
func NewPool(logger *logrus.Logger) *Pool {
	return &Pool{
		logger:  logger,
		senders: make(map[string]Sender),
	}
}

// Register records which sender currently owns a remote address. Re-register
// on every received datagram or accepted connection; the last writer wins,
// which is what lets a roaming UDP client keep receiving replies.
func (p *Pool) Register(addr string, s Sender) {
	p.mu.Lock()
	p.senders[addr] = s
	p.mu.Unlock()
}

// Unregister drops an address, typically when a TCP connection closes.
func (p *Pool) Unregister(addr string) {
	p.mu.Lock()
	delete(p.senders, addr)
	p.mu.Unlock()
}

// ConnectedTo reports whether some listener currently owns the address.
func (p *Pool) ConnectedTo(addr string) bool {
	p.mu.Lock()
	_, ok := p.senders[addr]
	p.mu.Unlock()
	return ok
}

// SendTo delivers raw bytes to the listener owning addr.
func (p *Pool) SendTo(addr string, data []byte) error {
	p.mu.Lock()
	s, ok := p.senders[addr]
	p.mu.Unlock()
	if !ok {
		return ErrUnknownAddr
	}
	return s.Send(addr, data)
}

// Size returns the number of registered remote addresses.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.senders)
}
