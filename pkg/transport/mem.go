package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrClosed             = errors.New("transport: endpoint closed")
	ErrUnknownDestination = errors.New("transport: unknown destination")
	ErrInboxFull          = errors.New("transport: destination inbox full")
)

const memInboxSize = 128

type envelope struct {
	from Addr
	data []byte
}

// Switch delivers datagrams between listened in-process addresses.
type Switch struct {
	mu    sync.RWMutex
	inbox map[Addr]chan envelope
}

func NewSwitch() *Switch {
	return &Switch{inbox: make(map[Addr]chan envelope)}
}

// Endpoint is an in-memory datagram socket bound to a Switch.
type Endpoint struct {
	sw     *Switch
	addr   Addr
	in     chan envelope
	closed chan struct{}
	once   sync.Once
}

func (s *Switch) Listen(addr Addr) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inbox[addr]; exists {
		return nil, fmt.Errorf("address already in use: %s", addr)
	}
	ch := make(chan envelope, memInboxSize)
	s.inbox[addr] = ch
	return &Endpoint{
		sw: s, addr: addr, in: ch, closed: make(chan struct{}),
	}, nil
}

func (s *Switch) Unlisten(addr Addr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbox[addr]; !ok {
		return false
	}
	delete(s.inbox, addr)
	return true
}

func (e *Endpoint) LocalAddr() Addr { return e.addr }

func (e *Endpoint) Close() {
	e.once.Do(func() {
		close(e.closed)
		e.sw.Unlisten(e.addr)
	})
}

func (e *Endpoint) Recv(ctx context.Context) ([]byte, bool) {
	_, b, ok := e.RecvFrom(ctx)
	return b, ok
}

// RecvFrom blocks until a datagram arrives or ctx/endpoint is closed.
func (e *Endpoint) RecvFrom(ctx context.Context) (Addr, []byte, bool) {
	select {
	case <-e.closed:
		return "", nil, false
	case <-ctx.Done():
		return "", nil, false
	case env := <-e.in:
		return env.from, env.data, true
	}
}

// Send never blocks: a full destination inbox is reported as an error, the
// same way a saturated socket buffer silently loses a UDP datagram.
func (e *Endpoint) Send(to Addr, datagram []byte) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	e.sw.mu.RLock()
	dst, ok := e.sw.inbox[to]
	e.sw.mu.RUnlock()
	if !ok {
		return ErrUnknownDestination
	}
	select {
	case dst <- envelope{from: e.addr, data: clone(datagram)}:
		return nil
	default:
		return ErrInboxFull
	}
}
