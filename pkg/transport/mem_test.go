package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juanpablocruz/uap/pkg/wire"
)

func memPair(t *testing.T) (*Endpoint, *Endpoint) {
	t.Helper()
	sw := NewSwitch()
	client, err := sw.Listen("client")
	if err != nil {
		t.Fatal(err)
	}
	server, err := sw.Listen("server")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestHelloRoundTrip(t *testing.T) {
	client, server := memPair(t)

	hello, err := wire.Encode(wire.NewHeader(wire.HELLO, 0, 77, 1, time.Now().UnixMicro()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Send("server", hello); err != nil {
		t.Fatalf("send: %v", err)
	}
	hello[0] = 0 // the switch must have copied the datagram

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	from, got, ok := server.RecvFrom(ctx)
	if !ok {
		t.Fatalf("no datagram")
	}
	if from != "client" {
		t.Fatalf("from=%q want client", from)
	}
	h, _, err := wire.Decode(got)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Command != wire.HELLO || h.SessionID != 77 {
		t.Fatalf("header=%+v", h)
	}

	// reply to the address the datagram came from
	if err := server.Send(from, got); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if _, ok := client.Recv(ctx); !ok {
		t.Fatalf("client got no reply")
	}
}

func TestListenTwice(t *testing.T) {
	sw := NewSwitch()
	if _, err := sw.Listen("A"); err != nil {
		t.Fatal(err)
	}
	if _, err := sw.Listen("A"); err == nil {
		t.Fatalf("expected address in use")
	}
}

func TestUnknownDestination(t *testing.T) {
	client, _ := memPair(t)
	if err := client.Send("nobody", []byte{1}); !errors.Is(err, ErrUnknownDestination) {
		t.Fatalf("err=%v want ErrUnknownDestination", err)
	}
}

func TestCloseReleasesAddress(t *testing.T) {
	sw := NewSwitch()
	a, err := sw.Listen("A")
	if err != nil {
		t.Fatal(err)
	}

	a.Close()
	a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := a.Recv(ctx); ok {
		t.Fatalf("expected closed recv to return ok=false")
	}
	if err := a.Send("A", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("send on closed: %v", err)
	}
	if _, err := sw.Listen("A"); err != nil {
		t.Fatalf("address not released: %v", err)
	}
}

func TestInboxFullDropsLikeUDP(t *testing.T) {
	client, server := memPair(t)
	for i := 0; i < memInboxSize; i++ {
		if err := client.Send("server", []byte{byte(i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := client.Send("server", []byte("overflow")); !errors.Is(err, ErrInboxFull) {
		t.Fatalf("err=%v want ErrInboxFull", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, ok := server.Recv(ctx)
	if !ok || b[0] != 0 {
		t.Fatalf("first queued datagram lost: ok=%v b=%v", ok, b)
	}
}
