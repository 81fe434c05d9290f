package app

import "sync"

// Observer fans values out to subscribers. Each subscriber holds at most one
// pending value; a slow reader only ever sees the latest.
type Observer[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
}

func NewObserver[T any]() *Observer[T] {
	return &Observer[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a channel of values and a cancel func. The channel is
// closed by cancel or Close.
func (o *Observer[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan T, 1)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.next
	o.next++
	o.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
		})
	}
}

func (o *Observer[T]) Publish(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (o *Observer[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}
