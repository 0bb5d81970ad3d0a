package schema

import "sort"

// Cache is a read-only snapshot of a namespace's schema definitions. It is
// built once per transaction and never mutated afterwards.
type Cache struct {
	byName map[string]*Schema
	names  []string
}

// NewCache indexes the given schemas.
func NewCache(list []*Schema) *Cache {
	c := &Cache{byName: make(map[string]*Schema, len(list))}
	for _, s := range list {
		c.byName[s.Name] = s
		c.names = append(c.names, s.Name)
	}
	sort.Strings(c.names)
	return c
}

// Get returns a schema by name.
func (c *Cache) Get(name string) (*Schema, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Names returns schema names in sorted order.
func (c *Cache) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of schemas.
func (c *Cache) Len() int {
	return len(c.names)
}
