package agent

import (
	"sync"
	"time"

	"relay/internal/thread"
)

// Event is one observable state change of a thread.
type Event struct {
	ThreadID string
	State    thread.StreamState

	// Terminal events (idle, awaiting-approval) bypass coalescing and are
	// delivered immediately.
	Terminal bool
}

// Listener receives published events. Called from the publisher's goroutine
// or the publishing goroutine; implementations must be quick.
type Listener func(Event)

// Publisher fans state changes out to listeners, coalescing rapid
// non-terminal updates (streaming deltas) to at most one per interval.
type Publisher struct {
	interval time.Duration

	mu        sync.Mutex
	listeners []Listener
	lastEmit  time.Time
	pending   *Event
	timer     *time.Timer
}

func NewPublisher(interval time.Duration) *Publisher {
	return &Publisher{interval: interval}
}

func (p *Publisher) Subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Publish delivers e to all listeners. Non-terminal events arriving faster
// than the interval are coalesced: only the newest one is delivered when
// the interval elapses. A terminal event flushes immediately and drops any
// pending coalesced update, since it supersedes it.
func (p *Publisher) Publish(e Event) {
	p.mu.Lock()

	if e.Terminal {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.pending = nil
		p.emitLocked(e)
		p.mu.Unlock()
		return
	}

	now := time.Now()
	if now.Sub(p.lastEmit) >= p.interval {
		p.emitLocked(e)
		p.mu.Unlock()
		return
	}

	p.pending = &e
	if p.timer == nil {
		wait := p.interval - now.Sub(p.lastEmit)
		p.timer = time.AfterFunc(wait, p.flushPending)
	}
	p.mu.Unlock()
}

func (p *Publisher) flushPending() {
	p.mu.Lock()
	p.timer = nil
	e := p.pending
	p.pending = nil
	if e != nil {
		p.emitLocked(*e)
	}
	p.mu.Unlock()
}

// emitLocked delivers under p.mu. Listeners are few and fast; holding the
// lock keeps delivery ordered.
func (p *Publisher) emitLocked(e Event) {
	p.lastEmit = time.Now()
	for _, l := range p.listeners {
		l(e)
	}
}
