package queue

import "sync"

// Queue is a thread-safe FIFO of pending requests. Strict arrival
// order: no priorities, no reordering. Duplicate ids are tolerated;
// each entry is processed independently.
type Queue struct {
	mu    sync.Mutex
	items []*Request
}

func New() *Queue {
	return &Queue{}
}

// Enqueue appends a request.
func (q *Queue) Enqueue(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
}

// Dequeue removes and returns the oldest request, or nil when empty.
func (q *Queue) Dequeue() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	req := q.items[0]
	q.items = q.items[1:]
	return req
}

// Peek returns the oldest request without removing it, or nil when
// empty.
func (q *Queue) Peek() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Remove deletes the first entry with the given id, preserving the
// order of everything else. Returns the removed request or nil.
func (q *Queue) Remove(id string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, req := range q.items {
		if req.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return req
		}
	}
	return nil
}

// Has reports whether a request with the given id is queued.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, req := range q.items {
		if req.ID == id {
			return true
		}
	}
	return false
}

// Size returns the number of queued requests.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue and returns the removed requests in order.
func (q *Queue) Clear() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.items
	q.items = nil
	return removed
}

// Snapshot returns a copy of the queued requests in arrival order.
func (q *Queue) Snapshot() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, len(q.items))
	copy(out, q.items)
	return out
}
