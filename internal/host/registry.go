package host

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/1ureka/chatnet/internal/transport"
)

// FirstConnectionID is the id handed to the first accepted connection.
// Ids are never reused within a server's lifetime; zero means "no connection".
const FirstConnectionID uint32 = 10000

// idGen hands out connection ids. It is shared by every accept loop of a
// server, so all operations are atomic.
type idGen struct {
	val atomic.Uint32
}

func newIDGen() *idGen {
	g := &idGen{}
	g.val.Store(FirstConnectionID - 1)
	return g
}

// Next returns the next id (monotonically increasing from FirstConnectionID).
func (g *idGen) Next() uint32 {
	return g.val.Add(1)
}

// Registry is the id → connection table of a server. Packets in the inbound
// queue carry only the id, so a connection pruned here is simply not found
// when its late packets are dispatched.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint32]*transport.Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint32]*transport.Connection)}
}

func (r *Registry) Add(c *transport.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

func (r *Registry) Get(id uint32) (*transport.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Remove deletes id and returns the connection that was stored under it.
// Only the first caller for a given id gets ok == true.
func (r *Registry) Remove(id uint32) (*transport.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the registered connections ordered by id. The slice is a
// copy, so callers may iterate it while the registry changes.
func (r *Registry) Snapshot() []*transport.Connection {
	r.mu.RLock()
	out := make([]*transport.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *transport.Connection) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}
