package relay

import (
	"sync"
	"time"
)

type outcome struct {
	env Envelope
	err error
}

// pendingRequest lives from submission until settlement. done is buffered so
// settlement never blocks on a caller that has gone away.
type pendingRequest struct {
	id        string
	transport Transport
	createdAt time.Time
	done      chan outcome
}

type queuedRequest struct {
	req    *pendingRequest
	script Script
}

// correlator owns the pending map and the pre-readiness queue.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	queue   []queuedRequest
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingRequest)}
}

// register adds a pending request. An existing entry with the same id is
// displaced and returned so the caller can release it.
func (c *correlator) register(id string, transport Transport, now time.Time) (req, displaced *pendingRequest) {
	req = &pendingRequest{
		id:        id,
		transport: transport,
		createdAt: now,
		done:      make(chan outcome, 1),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	displaced = c.pending[id]
	c.pending[id] = req
	if displaced != nil {
		c.unqueueLocked(displaced)
	}
	return req, displaced
}

// settle resolves whichever request currently owns id. It reports false for
// unknown ids, which covers late and duplicate messages.
func (c *correlator) settle(id string, o outcome) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	req.done <- o
	return true
}

// settleRequest resolves req only if it still owns its id.
func (c *correlator) settleRequest(req *pendingRequest, o outcome) bool {
	if !c.remove(req) {
		return false
	}
	req.done <- o
	return true
}

// remove drops req, and its queue entry if any, without settling it.
func (c *correlator) remove(req *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[req.id] != req {
		return false
	}
	delete(c.pending, req.id)
	c.unqueueLocked(req)
	return true
}

func (c *correlator) unqueueLocked(req *pendingRequest) {
	for i, q := range c.queue {
		if q.req == req {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

func (c *correlator) isPending(req *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[req.id] == req
}

// enqueueUnless queues the request unless ready() holds, checked under the
// queue lock so a concurrent drain cannot strand the entry.
func (c *correlator) enqueueUnless(ready func() bool, q queuedRequest) (queued bool, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ready() {
		return false, len(c.queue)
	}
	c.queue = append(c.queue, q)
	return true, len(c.queue)
}

// drain empties the queue and returns its entries in FIFO order.
func (c *correlator) drain() []queuedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queue
	c.queue = nil
	return q
}

// failAll settles every pending request with o and clears the queue.
func (c *correlator) failAll(o outcome) int {
	c.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(c.pending))
	for id, req := range c.pending {
		reqs = append(reqs, req)
		delete(c.pending, id)
	}
	c.queue = nil
	c.mu.Unlock()
	for _, req := range reqs {
		req.done <- o
	}
	return len(reqs)
}

func (c *correlator) counts() (pending, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending), len(c.queue)
}
