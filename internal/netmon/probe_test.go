package netmon

import (
	"net"
	"testing"
	"time"

	"github.com/vigilapp/vigil/internal/bus"
	"go.uber.org/zap"
)

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestProbeDetectsReachableEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	b := bus.New()
	ch, unsub := b.Subscribe("network.", 10)
	defer unsub()

	p := NewProbe(ln.Addr().String(), 50*time.Millisecond, b, zap.NewNop())
	p.Start()
	defer p.Stop()

	waitEvent(t, ch, "network.up")
	if !p.IsAvailable() {
		t.Fatal("expected IsAvailable true after network.up")
	}
}

func TestProbeDetectsUnreachableEndpoint(t *testing.T) {
	// Grab a port and close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	b := bus.New()
	ch, unsub := b.Subscribe("network.", 10)
	defer unsub()

	p := NewProbe(addr, 50*time.Millisecond, b, zap.NewNop())
	p.Start()
	defer p.Stop()

	waitEvent(t, ch, "network.down")
	if p.IsAvailable() {
		t.Fatal("expected IsAvailable false after network.down")
	}
}

func TestProbeTransitionPublishedOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	b := bus.New()
	ch, unsub := b.Subscribe("network.", 10)
	defer unsub()

	p := NewProbe(ln.Addr().String(), 20*time.Millisecond, b, zap.NewNop())
	p.Start()
	defer p.Stop()

	waitEvent(t, ch, "network.up")

	// Several more probe rounds with no state change must not emit.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s for steady state", evt.Kind)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestProbeStopIdempotent(t *testing.T) {
	p := NewProbe("127.0.0.1:1", time.Hour, bus.New(), zap.NewNop())
	p.Start()
	p.Stop()
	p.Stop()
	p.Start()
	p.Stop()
}
