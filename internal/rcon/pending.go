package rcon

import (
	"fmt"
	"sync"
)

type result struct {
	body string
	err  error
}

// pendingTable maps outstanding request ids to the channel their caller
// waits on. Every entry is consumed exactly once: by a matching reply, by
// the caller giving up, or by teardown.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint32]chan result
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uint32]chan result)}
}

// Register adds id. The returned channel receives exactly one result.
func (t *pendingTable) Register(id uint32) (<-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return nil, fmt.Errorf("request id %d is already pending", id)
	}
	ch := make(chan result, 1)
	t.entries[id] = ch
	return ch, nil
}

// Resolve delivers body to id's waiter. It reports false when nobody waits on id.
func (t *pendingTable) Resolve(id uint32, body string) bool {
	t.mu.Lock()
	ch, ok := t.entries[id]
	delete(t.entries, id)
	t.mu.Unlock()

	if ok {
		ch <- result{body: body}
	}
	return ok
}

// Cancel drops id without delivering anything.
func (t *pendingTable) Cancel(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[id]
	delete(t.entries, id)
	return ok
}

// FailAll rejects every waiter with err and empties the table.
func (t *pendingTable) FailAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint32]chan result)
	t.mu.Unlock()

	for _, ch := range entries {
		ch <- result{err: err}
	}
	return len(entries)
}

// Has reports whether id is pending.
func (t *pendingTable) Has(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

// Len returns the number of pending requests.
func (t *pendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
