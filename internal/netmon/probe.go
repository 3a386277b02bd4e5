// Package netmon watches reachability of the sync backend with a
// periodic TCP probe and publishes transitions on the event bus.
package netmon

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigilapp/vigil/internal/bus"
	"go.uber.org/zap"
)

const dialTimeout = 5 * time.Second

// Probe dials a fixed endpoint on an interval. The first probe runs
// immediately on Start so consumers see a real state, not the zero
// value, shortly after boot.
type Probe struct {
	addr     string
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger

	available atomic.Bool
	probed    atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbe creates a probe for addr (host:port) running every interval.
func NewProbe(addr string, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Probe {
	return &Probe{addr: addr, interval: interval, bus: b, logger: logger}
}

// IsAvailable reports the result of the most recent probe. Before the
// first probe completes it reports false.
func (p *Probe) IsAvailable() bool {
	return p.available.Load()
}

// Start launches the probe loop. Safe to call once per Stop.
func (p *Probe) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop halts the probe loop and waits for it to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Probe) loop(ctx context.Context) {
	defer close(p.done)

	p.check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *Probe) check(ctx context.Context) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if conn != nil {
		conn.Close()
	}
	if ctx.Err() != nil {
		return
	}
	up := err == nil

	prev := p.available.Swap(up)
	first := !p.probed.Swap(true)
	if !first && prev == up {
		return
	}

	if up {
		p.logger.Info("network reachable", zap.String("addr", p.addr))
		p.bus.Emit(bus.NetworkUp, nil)
	} else {
		p.logger.Warn("network unreachable", zap.String("addr", p.addr), zap.Error(err))
		p.bus.Emit(bus.NetworkDown, nil)
	}
}
