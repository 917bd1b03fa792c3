package bus

import "sync"

// pendingTable maps in-flight request ids to their waiters. It is the only
// state shared between concurrent SendCommand calls and the inbound ack
// handler, so every access goes through the mutex.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan Ack
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan Ack)}
}

// add registers a waiter for the given request id and returns the channel the
// matching ack will be delivered on. The channel is buffered so the inbound
// handler never blocks on a slow waiter.
func (t *pendingTable) add(id string) <-chan Ack {
	ch := make(chan Ack, 1)
	t.mu.Lock()
	t.waiters[id] = ch
	t.mu.Unlock()
	return ch
}

// remove drops the waiter for id, if any. Called on timeout and on failed
// publish attempts; a late ack for a removed id is simply unmatched.
func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}

// resolve delivers ack to the matching waiter and removes the entry.
// It reports whether a waiter existed.
func (t *pendingTable) resolve(ack Ack) bool {
	t.mu.Lock()
	ch, ok := t.waiters[ack.ID]
	if ok {
		delete(t.waiters, ack.ID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- ack
	return true
}

// size returns the number of in-flight entries.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
