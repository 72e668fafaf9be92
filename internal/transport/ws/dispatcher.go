package ws

import (
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/cwrk-planet/session-service/internal/session"
)

// Dispatcher performs the actual broadcast I/O for events produced by
// session operations. One single-worker pool per class keeps events of a
// room in the order they were emitted, without ever blocking the
// coordinator on slow sockets; rooms drain independently of each other.
type Dispatcher struct {
	hub *Hub

	mu     sync.Mutex
	queues map[string]*workerpool.WorkerPool
}

func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{
		hub:    hub,
		queues: make(map[string]*workerpool.WorkerPool),
	}
}

var _ session.EventSink = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(classID string, events []session.Event) {
	q := d.queue(classID)
	evs := events
	q.Submit(func() {
		for _, ev := range evs {
			d.hub.Broadcast(classID, Message{Type: ev.Type, Payload: ev.Payload}, ev.ExcludeConn)
		}
	})

	for _, ev := range events {
		if ev.Type == session.EventRoomClosed {
			d.release(classID)
			break
		}
	}
}

func (d *Dispatcher) queue(classID string) *workerpool.WorkerPool {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[classID]
	if !ok {
		q = workerpool.New(1)
		d.queues[classID] = q
	}
	return q
}

// release drops the room's queue once the room is gone, letting queued
// events drain first.
func (d *Dispatcher) release(classID string) {
	d.mu.Lock()
	q, ok := d.queues[classID]
	delete(d.queues, classID)
	d.mu.Unlock()

	if ok {
		go q.StopWait()
	}
}

// Stop drains and stops every room queue. Used on shutdown.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	queues := d.queues
	d.queues = make(map[string]*workerpool.WorkerPool)
	d.mu.Unlock()

	for _, q := range queues {
		q.StopWait()
	}
}
