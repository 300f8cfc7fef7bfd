package transport

import "context"

// Addr identifies a datagram peer. For UDP it is a "host:port" string.
type Addr string

// EndpointIF is the datagram surface the protocol drivers need. Every Send
// carries exactly one datagram; no extra framing is added.
type EndpointIF interface {
	Recv(ctx context.Context) ([]byte, bool)
	Send(to Addr, datagram []byte) error
	LocalAddr() Addr
	Close()
}

// FromEndpoint also reports the sender of each datagram. The server needs it
// to reply to peers it has not seen before.
type FromEndpoint interface {
	EndpointIF
	RecvFrom(ctx context.Context) (Addr, []byte, bool)
}
