package registry

import (
	"container/list"
	"errors"
	"fmt"
	"time"

	"rrsched/internal/proc"
)

var (
	ErrCapacity = errors.New("worker queue full")
	ErrIndex    = errors.New("worker index out of range")
)

// State is the scheduler-visible state of one worker.
type State int

const (
	NotStarted State = iota
	Active
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// WorkerRecord is one registered worker.
type WorkerRecord struct {
	// ID is the 1-based registration order; stable for the record's lifetime.
	ID     int
	Handle proc.Process
	Total  time.Duration
	// Remaining is signed: the final charge may take it below zero.
	Remaining time.Duration
	State     State
	Charges   int
}

func (w *WorkerRecord) PID() int {
	if w == nil || w.Handle == nil {
		return 0
	}
	return w.Handle.PID()
}

// Queue is the ordered run queue.
//
// Records are linked in registration order and indexed by ID, so removing a
// record never disturbs the relative order of the others and its successor
// is known without index arithmetic.
type Queue struct {
	capacity int
	order    *list.List
	byID     map[int]*list.Element
}

// NewQueue returns an empty queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{capacity: capacity, order: list.New(), byID: map[int]*list.Element{}}
}

func (q *Queue) Len() int { return q.order.Len() }

func (q *Queue) Cap() int { return q.capacity }

// Append adds rec at the tail.
func (q *Queue) Append(rec *WorkerRecord) error {
	if rec == nil {
		return errors.New("nil worker record")
	}
	if q.capacity > 0 && q.order.Len() >= q.capacity {
		return fmt.Errorf("%w: capacity %d", ErrCapacity, q.capacity)
	}
	if _, dup := q.byID[rec.ID]; dup {
		return fmt.Errorf("worker %d already queued", rec.ID)
	}
	q.byID[rec.ID] = q.order.PushBack(rec)
	return nil
}

// Front returns the first record, or nil when empty.
func (q *Queue) Front() *WorkerRecord {
	if e := q.order.Front(); e != nil {
		return e.Value.(*WorkerRecord)
	}
	return nil
}

// At returns the record at index i.
func (q *Queue) At(i int) (*WorkerRecord, error) {
	e, err := q.elementAt(i)
	if err != nil {
		return nil, err
	}
	return e.Value.(*WorkerRecord), nil
}

// Index returns the current position of rec, or -1 if it is not queued.
func (q *Queue) Index(rec *WorkerRecord) int {
	if rec == nil {
		return -1
	}
	target, ok := q.byID[rec.ID]
	if !ok {
		return -1
	}
	i := 0
	for e := q.order.Front(); e != nil; e = e.Next() {
		if e == target {
			return i
		}
		i++
	}
	return -1
}

// Contains reports whether rec is still queued.
func (q *Queue) Contains(rec *WorkerRecord) bool {
	if rec == nil {
		return false
	}
	_, ok := q.byID[rec.ID]
	return ok
}

// Next returns the circular successor of rec. A single-entry queue returns
// rec itself. Returns nil if rec is not queued.
func (q *Queue) Next(rec *WorkerRecord) *WorkerRecord {
	e, ok := q.byID[rec.ID]
	if !ok {
		return nil
	}
	if n := e.Next(); n != nil {
		return n.Value.(*WorkerRecord)
	}
	return q.order.Front().Value.(*WorkerRecord)
}

// Remove unlinks rec and returns the record that followed it in circular
// order, or nil when the queue is now empty.
func (q *Queue) Remove(rec *WorkerRecord) (*WorkerRecord, error) {
	if rec == nil {
		return nil, errors.New("nil worker record")
	}
	e, ok := q.byID[rec.ID]
	if !ok {
		return nil, fmt.Errorf("worker %d not queued", rec.ID)
	}
	next := e.Next()
	if next == nil {
		next = q.order.Front()
	}
	q.order.Remove(e)
	delete(q.byID, rec.ID)
	if q.order.Len() == 0 {
		return nil, nil
	}
	return next.Value.(*WorkerRecord), nil
}

// RemoveAt removes the record at index i; survivors keep their relative order.
func (q *Queue) RemoveAt(i int) (*WorkerRecord, error) {
	e, err := q.elementAt(i)
	if err != nil {
		return nil, err
	}
	rec := e.Value.(*WorkerRecord)
	q.order.Remove(e)
	delete(q.byID, rec.ID)
	return rec, nil
}

// Records returns a snapshot of the queue in order.
func (q *Queue) Records() []*WorkerRecord {
	out := make([]*WorkerRecord, 0, q.order.Len())
	for e := q.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*WorkerRecord))
	}
	return out
}

func (q *Queue) elementAt(i int) (*list.Element, error) {
	if i < 0 || i >= q.order.Len() {
		return nil, fmt.Errorf("%w: %d (len %d)", ErrIndex, i, q.order.Len())
	}
	e := q.order.Front()
	for ; i > 0; i-- {
		e = e.Next()
	}
	return e, nil
}
