package mqttc

// Registry tracks the clients that currently own a connection. It holds no
// lock of its own: every method must be called with the Engine lock held,
// which is the single lock serializing registry mutation, pool access and
// per-call buffer access.
type Registry interface {
	// Acquire places c in a free slot and returns the slot index.
	// Returns ErrNoResources when the registry is full.
	Acquire(c *Client) (int, error)

	// Lookup returns the client in slot, or nil.
	Lookup(slot int) *Client

	// Release clears the slot held by c. Releasing an unregistered client
	// is a no-op.
	Release(c *Client)

	// Range calls fn for each registered client until fn returns false.
	// fn may release the client it is given.
	Range(fn func(c *Client) bool)

	// Len returns the number of registered clients.
	Len() int

	// Cap returns the number of slots.
	Cap() int

	// Reset clears every slot.
	Reset()
}

// SlotRegistry is a fixed-capacity Registry backed by a slice of slots.
type SlotRegistry struct {
	slots []*Client
	count int
}

// NewSlotRegistry creates a registry with capacity slots.
func NewSlotRegistry(capacity int) *SlotRegistry {
	return &SlotRegistry{slots: make([]*Client, capacity)}
}

// Acquire places c in the first free slot. A client that already holds a
// slot keeps it.
func (r *SlotRegistry) Acquire(c *Client) (int, error) {
	free := -1

	for i, s := range r.slots {
		if s == c {
			return i, nil
		}
		if s == nil && free < 0 {
			free = i
		}
	}

	if free < 0 {
		return -1, ErrNoResources
	}

	r.slots[free] = c
	r.count++
	return free, nil
}

// Lookup returns the client in slot, or nil.
func (r *SlotRegistry) Lookup(slot int) *Client {
	if slot < 0 || slot >= len(r.slots) {
		return nil
	}
	return r.slots[slot]
}

// Release clears the slot held by c.
func (r *SlotRegistry) Release(c *Client) {
	for i, s := range r.slots {
		if s == c {
			r.slots[i] = nil
			r.count--
			return
		}
	}
}

// Range calls fn for each registered client in slot order.
func (r *SlotRegistry) Range(fn func(c *Client) bool) {
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		if !fn(s) {
			return
		}
	}
}

// Len returns the number of registered clients.
func (r *SlotRegistry) Len() int {
	return r.count
}

// Cap returns the number of slots.
func (r *SlotRegistry) Cap() int {
	return len(r.slots)
}

// Reset clears every slot.
func (r *SlotRegistry) Reset() {
	clear(r.slots)
	r.count = 0
}
