package stream

import "sync"

// ID names a controller slot in an Arena.
type ID uint64

// Arena owns the SourceControllers of a scope. Primitives refer to their
// controller by ID, never by pointer, so a collected primitive does not keep
// its controller alive and the controller never points back at it. Lookups
// may come from the garbage collector's goroutine, hence the lock.
type Arena struct {
	mu    sync.Mutex
	next  ID
	slots map[ID]*SourceController
	// retired holds slots whose controller was finalized.
	retired map[ID]struct{}
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{slots: make(map[ID]*SourceController), retired: make(map[ID]struct{})}
}

// Insert stores c and returns its slot ID.
func (a *Arena) Insert(c *SourceController) ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.slots[a.next] = c
	return a.next
}

// Get returns the controller in slot id, or nil once it has been removed.
func (a *Arena) Get(id ID) *SourceController {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots[id]
}

// Retire empties slot id after its controller was finalized and remembers
// that it was, so a later finalize of the same slot can be told apart from
// one that arrives after Shutdown.
func (a *Arena) Retire(id ID) *SourceController {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.slots[id]
	delete(a.slots, id)
	if c != nil {
		a.retired[id] = struct{}{}
	}
	return c
}

// lookup returns the controller in slot id and whether the slot was retired.
func (a *Arena) lookup(id ID) (*SourceController, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, retired := a.retired[id]
	return a.slots[id], retired
}

// Len returns the number of live slots.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots)
}

// clear empties the arena and returns the controllers it held. Cleared slots
// are not retired.
func (a *Arena) clear() []*SourceController {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*SourceController, 0, len(a.slots))
	for id, c := range a.slots {
		out = append(out, c)
		delete(a.slots, id)
	}
	return out
}

// traps binds a primitive to the controller in one arena slot.
type traps struct {
	arena *Arena
	id    ID
}
