package status

import (
	"context"
	"sync"

	"github.com/vigilapp/vigil/internal/bus"
	"go.uber.org/zap"
)

// Driver translates bus events into state machine transitions:
// connectivity loss parks the engine in Offline, connectivity recovery
// starts a Syncing pass, a completed pass means Ready, and delivery
// failures while Ready mark the engine Degraded until the next clean
// pass.
type Driver struct {
	machine *Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver creates a driver over the shared machine and bus.
func NewDriver(m *Machine, b *bus.Bus, logger *zap.Logger) *Driver {
	return &Driver{machine: m, bus: b, logger: logger}
}

// Start subscribes to the bus and begins driving transitions.
func (d *Driver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	ch, unsub := d.bus.Subscribe("", 32)
	go d.loop(ctx, ch, unsub)
}

// Stop unsubscribes and waits for the event loop to exit.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Driver) loop(ctx context.Context, ch <-chan bus.Event, unsub func()) {
	defer close(d.done)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			d.handle(evt)
		}
	}
}

func (d *Driver) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.NetworkDown:
		d.transition(Offline)
	case bus.NetworkUp:
		d.transition(Syncing)
	case bus.SyncPassCompleted:
		if cur := d.machine.Current(); cur == Syncing || cur == Degraded {
			d.transition(Ready)
		}
	case bus.MessageSendFailed:
		if d.machine.Current() == Ready {
			d.transition(Degraded)
		}
	}
}

func (d *Driver) transition(to State) {
	if from := d.machine.Current(); from == to {
		return
	}
	if err := d.machine.Transition(to); err != nil {
		d.logger.Debug("status transition skipped", zap.Error(err))
	}
}
