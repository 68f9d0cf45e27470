package progress

// Bus decouples percent-complete reporting from a backend's blocking
// I/O: Report never blocks on the renderer, and a single goroutine owns
// ordering of emitted messages, mirroring the single-multiplexer-goroutine
// shape used elsewhere in this codebase for fanning many producers into
// one consumer.
type Bus struct {
	ch     chan busMsg
	done   chan struct{}
	Report func(dev string, phase Phase, percent int)
}

type busMsg struct {
	dev     string
	phase   Phase
	percent int
}

// NewBus starts the multiplexer goroutine. Close must be called once the
// bus is no longer needed.
func NewBus(report func(dev string, phase Phase, percent int)) *Bus {
	b := &Bus{
		ch:     make(chan busMsg, 64),
		done:   make(chan struct{}),
		Report: report,
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.done)
	for m := range b.ch {
		if b.Report != nil {
			b.Report(m.dev, m.phase, m.percent)
		}
	}
}

// Send enqueues a progress update without blocking the caller on however
// long rendering takes; a full buffer simply drops the oldest-pending
// update's ordering in favor of forward progress (percent-complete is a
// monotonic stream, not an event log).
func (b *Bus) Send(dev string, phase Phase, percent int) {
	select {
	case b.ch <- busMsg{dev, phase, percent}:
	default:
		// Channel full: drain one stale update to make room rather than
		// block the wiping loop on rendering.
		select {
		case <-b.ch:
		default:
		}
		select {
		case b.ch <- busMsg{dev, phase, percent}:
		default:
		}
	}
}

// Close stops the multiplexer goroutine and waits for it to drain.
func (b *Bus) Close() {
	close(b.ch)
	<-b.done
}
