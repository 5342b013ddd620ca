// Package gateway guards grid operations against node lifecycle transitions.
// 网关:读侧用于业务操作,写侧只在停止节点时持有
package gateway

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle state of the local node
type State int32

const (
	StateStarting State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrUnavailable matches every UnavailableError
var ErrUnavailable = errors.New("lifecycle gateway unavailable")

// UnavailableError is returned by Acquire when the node is not started
type UnavailableError struct {
	State State
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("lifecycle gateway unavailable: node is %s", e.State)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Gateway is a reader/writer guard over the node lifecycle. Operations hold
// the read side for their duration; Stop takes the write side.
// Read acquisitions must not nest: a pending Stop blocks new readers.
type Gateway struct {
	mu      sync.RWMutex
	state   atomic.Int32
	readers atomic.Int64
	stopped chan struct{}
}

// New creates a gateway in the Starting state
func New() *Gateway {
	g := &Gateway{stopped: make(chan struct{})}
	g.state.Store(int32(StateStarting))
	return g
}

// State returns the current lifecycle state
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// ActiveReaders returns the number of operations holding the read side
func (g *Gateway) ActiveReaders() int64 {
	return g.readers.Load()
}

// Start moves the gateway from Starting to Started
func (g *Gateway) Start() error {
	if !g.state.CompareAndSwap(int32(StateStarting), int32(StateStarted)) {
		return fmt.Errorf("cannot start gateway: node is %s", g.State())
	}
	return nil
}

// Acquire takes the read side. It fails without blocking when the node is
// not started, and blocks only while Stop holds the write side.
func (g *Gateway) Acquire() error {
	if s := g.State(); s != StateStarted {
		return &UnavailableError{State: s}
	}

	g.mu.RLock()
	if s := g.State(); s != StateStarted {
		g.mu.RUnlock()
		return &UnavailableError{State: s}
	}
	g.readers.Add(1)
	return nil
}

// Release gives back a read side obtained from a successful Acquire
func (g *Gateway) Release() {
	g.readers.Add(-1)
	g.mu.RUnlock()
}

// Stop moves the gateway to Stopping, waits for in-flight readers, runs
// finalize under the write side and moves to Stopped. Concurrent callers
// wait for the first one to finish. Reports whether this call did the stop.
func (g *Gateway) Stop(finalize func()) bool {
	if !g.state.CompareAndSwap(int32(StateStarted), int32(StateStopping)) &&
		!g.state.CompareAndSwap(int32(StateStarting), int32(StateStopping)) {
		<-g.stopped
		return false
	}

	g.mu.Lock()
	defer func() {
		g.state.Store(int32(StateStopped))
		g.mu.Unlock()
		close(g.stopped)
	}()

	if finalize != nil {
		finalize()
	}
	return true
}

// Stopped is closed once Stop has finished
func (g *Gateway) Stopped() <-chan struct{} {
	return g.stopped
}
