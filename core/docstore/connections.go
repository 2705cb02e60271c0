package docstore

import "sync"

// Connections is the connection registry: it maps configured database names
// to document stores. Models resolve their configured database name against
// it on first use.
type Connections struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewConnections creates an empty connection registry
func NewConnections() *Connections {
	return &Connections{stores: map[string]Store{}}
}

// Register binds a database name to a store. Re-registering a name swaps
// the store, which is how tests rebind a model's data source.
func (c *Connections) Register(name string, store Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores[name] = store
}

// Lookup resolves a database name
func (c *Connections) Lookup(name string) (Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	store, ok := c.stores[name]
	return store, ok
}

// Names returns the registered database names
func (c *Connections) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.stores))
	for name := range c.stores {
		names = append(names, name)
	}
	return names
}
