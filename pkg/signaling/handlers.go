package signaling

import "sync"

// Handlers is a registry of signal handlers called in registration order.
// The zero value is ready to use.
type Handlers struct {
	mu     sync.RWMutex
	byID   map[uint64]Handler
	order  []uint64
	nextID uint64
}

// Add registers h and returns a function that removes it.
func (hs *Handlers) Add(h Handler) (remove func()) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.byID == nil {
		hs.byID = make(map[uint64]Handler)
	}
	id := hs.nextID
	hs.nextID++
	hs.byID[id] = h
	hs.order = append(hs.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			hs.mu.Lock()
			defer hs.mu.Unlock()
			delete(hs.byID, id)
			for i, v := range hs.order {
				if v == id {
					hs.order = append(hs.order[:i], hs.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Dispatch calls every registered handler on the calling goroutine.
// Handlers may add or remove handlers while being called.
func (hs *Handlers) Dispatch(msg Message, local bool) {
	hs.mu.RLock()
	snapshot := make([]Handler, 0, len(hs.order))
	for _, id := range hs.order {
		snapshot = append(snapshot, hs.byID[id])
	}
	hs.mu.RUnlock()

	for _, h := range snapshot {
		h(msg, local)
	}
}

// Len returns the number of registered handlers.
func (hs *Handlers) Len() int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return len(hs.order)
}
