// Package catalog maps service type names to factories so deployments can
// be requested by name over the admin API.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shepherd-project/corral/internal/registry"
)

var (
	ErrUnknownType   = errors.New("unknown service type")
	ErrDuplicateType = errors.New("service type already registered")
)

// Factory builds a service from string parameters
type Factory func(params map[string]string) (registry.Service, error)

// Catalog is a set of named service factories
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Builtin creates a catalog holding the built-in services
func Builtin() *Catalog {
	c := New()
	_ = c.Register("echo", newEcho)
	_ = c.Register("ticker", newTicker)
	return c
}

// Register adds a factory under name
func (c *Catalog) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("service type name and factory are required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	c.factories[name] = f
	return nil
}

// Create builds a service of the named type
func (c *Catalog) Create(name string, params map[string]string) (registry.Service, error) {
	c.mu.RLock()
	f, ok := c.factories[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	svc, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("create %s service: %w", name, err)
	}
	return svc, nil
}

// Names returns the registered type names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
