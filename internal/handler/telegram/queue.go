package telegram

import (
	"container/list"
	"context"
	"sync"
)

type queuedUpdate struct {
	ctx    context.Context
	update Update
}

// userQueue holds one user's pending updates in arrival order.
type userQueue struct {
	pending *list.List
	running bool
}

// dispatcher runs updates through one worker per user. Updates of the same
// user are handled strictly in the order they were enqueued; different users
// proceed concurrently.
type dispatcher struct {
	handle func(context.Context, Update)

	mu     sync.Mutex
	queues map[string]*userQueue
	wg     sync.WaitGroup
}

func newDispatcher(handle func(context.Context, Update)) *dispatcher {
	return &dispatcher{
		handle: handle,
		queues: make(map[string]*userQueue),
	}
}

// Enqueue appends update to userID's queue and starts its worker when idle.
func (d *dispatcher) Enqueue(ctx context.Context, userID string, update Update) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[userID]
	if !ok {
		q = &userQueue{pending: list.New()}
		d.queues[userID] = q
	}
	q.pending.PushBack(queuedUpdate{ctx: ctx, update: update})

	if q.running {
		return
	}
	q.running = true
	d.wg.Add(1)
	go d.drain(userID, q)
}

// Pending returns the number of updates waiting (not yet running) for userID.
func (d *dispatcher) Pending(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[userID]; ok {
		return q.pending.Len()
	}
	return 0
}

// Wait blocks until every worker has drained its queue.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

func (d *dispatcher) drain(userID string, q *userQueue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		front := q.pending.Front()
		if front == nil {
			q.running = false
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		q.pending.Remove(front)
		d.mu.Unlock()

		item := front.Value.(queuedUpdate)
		d.handle(item.ctx, item.update)
	}
}
