package transport

import (
	"context"
	"net"
	"sync"
)

const udpInboxSize = 256

// UDPEndpoint is a bound UDP socket with a background read loop.
type UDPEndpoint struct {
	c      *net.UDPConn
	addr   Addr
	in     chan envelope
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	rmu      sync.Mutex
	resolved map[Addr]*net.UDPAddr
}

// ListenUDP binds addr ("host:port"; ":0" for an ephemeral client port).
func ListenUDP(addr string) (*UDPEndpoint, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	ep := &UDPEndpoint{
		c:        c,
		addr:     Addr(c.LocalAddr().String()),
		in:       make(chan envelope, udpInboxSize),
		closed:   make(chan struct{}),
		resolved: make(map[Addr]*net.UDPAddr),
	}
	ep.wg.Add(1)
	go ep.readLoop()
	return ep, nil
}

func (e *UDPEndpoint) LocalAddr() Addr { return e.addr }

// Close shuts the socket and waits for the read loop to exit.
func (e *UDPEndpoint) Close() {
	e.once.Do(func() {
		close(e.closed)
		_ = e.c.Close()
	})
	e.wg.Wait()
}

func (e *UDPEndpoint) Recv(ctx context.Context) ([]byte, bool) {
	_, b, ok := e.RecvFrom(ctx)
	return b, ok
}

func (e *UDPEndpoint) RecvFrom(ctx context.Context) (Addr, []byte, bool) {
	select {
	case <-e.closed:
		return "", nil, false
	case <-ctx.Done():
		return "", nil, false
	case env := <-e.in:
		return env.from, env.data, true
	}
}

// Send writes one datagram.
func (e *UDPEndpoint) Send(to Addr, datagram []byte) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	ra, err := e.resolve(to)
	if err != nil {
		return err
	}
	_, err = e.c.WriteToUDP(datagram, ra)
	return err
}

func (e *UDPEndpoint) resolve(to Addr) (*net.UDPAddr, error) {
	e.rmu.Lock()
	defer e.rmu.Unlock()
	if ra, ok := e.resolved[to]; ok {
		return ra, nil
	}
	ra, err := net.ResolveUDPAddr("udp", string(to))
	if err != nil {
		return nil, err
	}
	e.resolved[to] = ra
	return ra, nil
}

func (e *UDPEndpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := e.c.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		select {
		case e.in <- envelope{from: Addr(raddr.String()), data: clone(buf[:n])}:
		case <-e.closed:
			return
		default:
			// inbox full: drop, as the kernel would
		}
	}
}
