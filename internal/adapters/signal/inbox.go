package signal

import (
	"sync"

	"github.com/dkeye/voicesession/internal/core"
	"github.com/rs/zerolog"
)

// MaxHeld bounds how many messages per event wait for a first handler.
const MaxHeld = 64

// Inbox delivers incoming messages one at a time on its own goroutine.
// Messages for an event nobody handles yet are held and replayed, in order,
// ahead of newer traffic once a handler is registered.
type Inbox struct {
	log zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []core.Message
	handlers map[string]core.SignalHandler
	held     map[string][]core.Message
	closed   bool
}

func NewInbox(log zerolog.Logger) *Inbox {
	b := &Inbox{
		log:      log,
		handlers: make(map[string]core.SignalHandler),
		held:     make(map[string][]core.Message),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

func (b *Inbox) Push(m core.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, m)
	b.cond.Signal()
}

// On replaces the handler for event.
func (b *Inbox) On(event string, h core.SignalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = h
	if held := b.held[event]; len(held) > 0 {
		delete(b.held, event)
		b.queue = append(held, b.queue...)
		b.cond.Signal()
	}
}

// Reset drops every handler. Held messages stay held.
func (b *Inbox) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.handlers)
}

func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queue = nil
	b.cond.Broadcast()
}

func (b *Inbox) run() {
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		m := b.queue[0]
		b.queue = b.queue[1:]
		h, ok := b.handlers[m.Event]
		if !ok {
			if len(b.held[m.Event]) < MaxHeld {
				b.held[m.Event] = append(b.held[m.Event], m)
			} else {
				b.log.Warn().Str("event", m.Event).Msg("held queue full, dropping")
			}
			b.mu.Unlock()
			continue
		}
		b.mu.Unlock()
		h(m)
	}
}
