package scrape

import (
	"sync"

	"groupwatch/internal/model"
)

// Mailbox routes extraction results back to the scrape that owns the
// surface. Each registered id accepts exactly one delivery.
type Mailbox struct {
	mu    sync.Mutex
	slots map[string]chan []model.Post
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{slots: make(map[string]chan []model.Post)}
}

// Register opens a slot for id. Registering an id again replaces its slot.
func (m *Mailbox) Register(id string) <-chan []model.Post {
	ch := make(chan []model.Post, 1)
	m.mu.Lock()
	m.slots[id] = ch
	m.mu.Unlock()
	return ch
}

// Deliver hands posts to the scrape waiting on id. It reports false when no
// slot is open, for example after a timeout or a previous delivery.
func (m *Mailbox) Deliver(id string, posts []model.Post) bool {
	m.mu.Lock()
	ch, ok := m.slots[id]
	delete(m.slots, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	ch <- posts
	return true
}

// Cancel closes the slot for id without delivering.
func (m *Mailbox) Cancel(id string) {
	m.mu.Lock()
	delete(m.slots, id)
	m.mu.Unlock()
}

// Pending returns the number of open slots.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}
