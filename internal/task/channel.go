package task

import "sync"

// ProgressChannel is an ordered, unbounded event queue bridging one producer
// (the orchestrator goroutine) and at most one live consumer. Publish never
// blocks; events accumulate until the sentinel is published, after which the
// channel is torn down by the orchestrator's teardown path.
type ProgressChannel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func NewProgressChannel() *ProgressChannel {
	ch := &ProgressChannel{}
	ch.cond = sync.NewCond(&ch.mu)
	return ch
}

// Publish appends ev to the tail. Events published after Close are dropped.
func (ch *ProgressChannel) Publish(ev Event) {
	ch.mu.Lock()
	if !ch.closed {
		ch.queue = append(ch.queue, ev)
		ch.cond.Signal()
	}
	ch.mu.Unlock()
}

// Close publishes the end-of-stream sentinel. Idempotent.
func (ch *ProgressChannel) Close() {
	ch.mu.Lock()
	if !ch.closed {
		ch.closed = true
		ch.cond.Broadcast()
	}
	ch.mu.Unlock()
}

// next blocks until an event is available or the sentinel is reached.
// The second return is false exactly once, at end of stream.
func (ch *ProgressChannel) next() (Event, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for len(ch.queue) == 0 && !ch.closed {
		ch.cond.Wait()
	}
	if len(ch.queue) == 0 {
		return Event{}, false
	}
	ev := ch.queue[0]
	ch.queue = ch.queue[1:]
	return ev, true
}

// Subscribe returns a single-pass stream of events in publish order. The
// returned channel is closed after the sentinel is read. stop ends delivery
// early (consumer disconnect); pending events are then discarded.
func (ch *ProgressChannel) Subscribe(stop <-chan struct{}) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			ev, ok := ch.next()
			if !ok {
				return
			}
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return out
}
