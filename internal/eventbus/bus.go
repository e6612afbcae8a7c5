package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight in-memory notification about a run.
//
// Contract:
//   - Publish MUST be non-blocking (the scheduler publishes from its tick path).
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events.
type Event struct {
	Type  string
	Time  time.Time
	RunID string
	Data  any
}

// Event types published by runs.
const (
	RunStarted     = "run.started"
	RunHalted      = "run.halted"
	WorkerStarted  = "worker.started"
	WorkerResumed  = "worker.resumed"
	WorkerPaused   = "worker.paused"
	WorkerFinished = "worker.finished"
	// WorkerExited is a worker that ran to completion on its own (static modes).
	WorkerExited = "worker.exited"
)

// WorkerData is the payload of worker.* events.
type WorkerData struct {
	Worker    int
	PID       int
	Charges   int
	Remaining time.Duration
}

// RunData is the payload of run.* events.
type RunData struct {
	Mode    string
	Workers int
	Quantum time.Duration
	Err     string
}

// Publisher is the publish half of a Bus.
type Publisher interface {
	Publish(e Event)
}

type Bus interface {
	Publisher
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock means no Publish is mid-send on ch.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
