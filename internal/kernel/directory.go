package kernel

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shepherd-project/corral/internal/services"
)

var (
	// ErrUnknownContext is returned for names with no running kernel
	ErrUnknownContext = errors.New("unknown execution context")
	// ErrDuplicateContext is returned when a name is already registered
	ErrDuplicateContext = errors.New("execution context already registered")
)

// Directory maps context names to the running kernels of a process
type Directory struct {
	mu      sync.RWMutex
	kernels map[string]*Kernel
}

// DefaultDirectory is the directory of this process
var DefaultDirectory = NewDirectory()

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{kernels: make(map[string]*Kernel)}
}

// Register adds k under its name
func (d *Directory) Register(k *Kernel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.kernels[k.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateContext, k.Name())
	}
	d.kernels[k.Name()] = k
	return nil
}

// Unregister removes k if it is the kernel registered under its name
func (d *Directory) Unregister(k *Kernel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.kernels[k.Name()] != k {
		return false
	}
	delete(d.kernels, k.Name())
	return true
}

// Kernel returns the kernel registered under name
func (d *Directory) Kernel(name string) (*Kernel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k, ok := d.kernels[name]
	return k, ok
}

// Context implements services.Directory
func (d *Directory) Context(name string) (services.ExecutionContext, error) {
	k, ok := d.Kernel(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, name)
	}
	return k, nil
}

// Names returns the registered names, sorted
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.kernels))
	for name := range d.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
