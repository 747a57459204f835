package store

import "sync"

// registry fans out change notifications to observers keyed by entity kind.
// Notification is best effort: a slow observer that has not drained its
// channel does not block the writer and simply coalesces events.
type registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan string
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]map[int]chan string)}
}

func (r *registry) subscribe(entity string) (<-chan string, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[entity] == nil {
		r.subs[entity] = make(map[int]chan string)
	}

	id := r.nextID
	r.nextID++

	ch := make(chan string, 1)
	r.subs[entity][id] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := r.subs[entity][id]; ok {
			delete(r.subs[entity], id)
			close(sub)
		}
	}

	return ch, cancel
}

func (r *registry) notify(entity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.subs[entity] {
		select {
		case ch <- entity:
		default:
		}
	}
}
