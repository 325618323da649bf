package playlist

import (
	"strings"
	"sync"

	"VoiceFM/model"
)

// DownloadQueue is a FIFO of tracks that still have to be fetched.
// An id is held at most once, counting both queued entries and the one in flight.
type DownloadQueue struct {
	mu       sync.Mutex
	items    []model.DownloadRequest
	queued   map[string]struct{}
	inflight map[string]model.DownloadRequest
}

// NewDownloadQueue returns an empty queue.
func NewDownloadQueue() *DownloadQueue {
	return &DownloadQueue{
		queued:   make(map[string]struct{}),
		inflight: make(map[string]model.DownloadRequest),
	}
}

// Push appends req. It returns false for an empty id or an id already queued or in flight.
func (q *DownloadQueue) Push(req model.DownloadRequest) bool {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return false
	}
	req.ID = id

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasLocked(id) {
		return false
	}
	q.items = append(q.items, req)
	q.queued[id] = struct{}{}
	return true
}

// Pop removes the head and marks it in flight until Done is called.
func (q *DownloadQueue) Pop() (model.DownloadRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return model.DownloadRequest{}, false
	}
	req := q.items[0]
	q.items[0] = model.DownloadRequest{}
	q.items = q.items[1:]
	delete(q.queued, req.ID)
	q.inflight[req.ID] = req
	return req, true
}

// Done releases an in-flight id, whether the fetch succeeded or not.
func (q *DownloadQueue) Done(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
}

// Contains reports whether id is queued or in flight.
func (q *DownloadQueue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasLocked(id)
}

// Len counts queued and in-flight requests.
func (q *DownloadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + len(q.inflight)
}

// Queued counts requests not yet picked up.
func (q *DownloadQueue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queued requests in order.
func (q *DownloadQueue) Items() []model.DownloadRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.DownloadRequest, len(q.items))
	copy(out, q.items)
	return out
}

// Clear drops every queued request and returns how many were removed.
// The in-flight request is left to finish.
func (q *DownloadQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.queued = make(map[string]struct{})
	return n
}

func (q *DownloadQueue) hasLocked(id string) bool {
	if _, ok := q.queued[id]; ok {
		return true
	}
	_, ok := q.inflight[id]
	return ok
}
