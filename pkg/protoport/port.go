// Package protoport couples a datagram endpoint with the wire codec so the
// drivers deal in decoded messages.
package protoport

import (
	"context"

	"github.com/juanpablocruz/uap/pkg/transport"
	"github.com/juanpablocruz/uap/pkg/wire"
)

// Peer is the transport address.
type Peer = transport.Addr

type Message struct {
	Header  wire.Header
	Payload []byte
}

// Messenger abstracts sending/receiving decoded messages.
type Messenger interface {
	Recv(ctx context.Context) (from Peer, m Message, ok bool)
	Send(to Peer, m Message) error
}

// WireMessenger adapts an EndpointIF and the wire codec to Messenger.
// Datagrams that fail to decode are skipped; OnMalformed, if set, sees them.
type WireMessenger struct {
	EP          transport.EndpointIF
	OnMalformed func(from Peer, err error)
}

// Recv blocks until a well-formed message arrives. ok is false once ctx is
// done or the endpoint is closed.
func (wm WireMessenger) Recv(ctx context.Context) (Peer, Message, bool) {
	fe, hasFrom := wm.EP.(transport.FromEndpoint)
	for {
		var (
			from Peer
			b    []byte
			ok   bool
		)
		if hasFrom {
			from, b, ok = fe.RecvFrom(ctx)
		} else {
			b, ok = wm.EP.Recv(ctx)
		}
		if !ok {
			return "", Message{}, false
		}
		h, payload, err := wire.Decode(b)
		if err != nil {
			if wm.OnMalformed != nil {
				wm.OnMalformed(from, err)
			}
			continue
		}
		return from, Message{Header: h, Payload: payload}, true
	}
}

func (wm WireMessenger) Send(to Peer, m Message) error {
	b, err := wire.Encode(m.Header, m.Payload)
	if err != nil {
		return err
	}
	return wm.EP.Send(to, b)
}
