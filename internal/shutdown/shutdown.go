// Package shutdown runs prioritized shutdown hooks when the node receives a
// termination signal or is stopped programmatically.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/shepherd-project/corral/internal/logger"
)

// ShutdownHook represents a function that can be called during shutdown
type ShutdownHook func(ctx context.Context) error

// HookPriority defines the order in which hooks are executed
type HookPriority int

const (
	// PriorityCritical hooks run first (stop accepting requests)
	PriorityCritical HookPriority = 0
	// PriorityHigh hooks run second (stop the kernel)
	PriorityHigh HookPriority = 1
	// PriorityNormal hooks run third (close storage)
	PriorityNormal HookPriority = 2
	// PriorityLow hooks run last (flush logs)
	PriorityLow HookPriority = 3
)

// shutdownHook represents a registered shutdown hook with priority
type shutdownHook struct {
	name     string
	hook     ShutdownHook
	priority HookPriority
}

// Manager manages graceful shutdown
type Manager struct {
	mu       sync.Mutex
	hooks    []shutdownHook
	timeout  time.Duration
	log      *logger.Logger
	sigChan  chan os.Signal
	stopChan chan struct{}
	done     chan struct{}
	err      error
	started  bool
	once     sync.Once
}

// NewManager creates a new shutdown manager. timeout bounds each hook.
func NewManager(timeout time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		timeout:  timeout,
		log:      log,
		sigChan:  make(chan os.Signal, 1),
		stopChan: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Register registers a new shutdown hook with the given name and priority.
// Hooks of equal priority run in registration order.
func (m *Manager) Register(name string, hook ShutdownHook, priority HookPriority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = append(m.hooks, shutdownHook{
		name:     name,
		hook:     hook,
		priority: priority,
	})
	m.log.Debugf("Registered shutdown hook: %s (priority: %d)", name, priority)
}

// Start begins listening for shutdown signals
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-m.sigChan:
			m.log.Infof("收到关闭信号: %v", sig)
		case <-m.stopChan:
			m.log.Info("收到程序停止请求")
		case <-m.done:
			return
		}
		m.Shutdown()
	}()
}

// Stop triggers graceful shutdown asynchronously
func (m *Manager) Stop() {
	select {
	case m.stopChan <- struct{}{}:
	default:
	}
}

// Shutdown runs every hook once, in priority order, and returns the joined
// hook errors. Later calls wait for the first run and return its result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		defer close(m.done)
		signal.Stop(m.sigChan)

		m.mu.Lock()
		hooks := make([]shutdownHook, len(m.hooks))
		copy(hooks, m.hooks)
		m.mu.Unlock()

		sort.SliceStable(hooks, func(i, j int) bool {
			return hooks[i].priority < hooks[j].priority
		})

		m.log.Info("开始优雅关闭...")
		var errs []error
		for _, h := range hooks {
			if err := m.runHook(h); err != nil {
				errs = append(errs, err)
			}
		}
		m.err = errors.Join(errs...)
		m.log.Info("优雅关闭完成")
	})

	<-m.done
	return m.err
}

func (m *Manager) runHook(h shutdownHook) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Infof("执行关闭钩子: %s", h.name)

	done := make(chan error, 1)
	go func() {
		done <- h.hook(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Errorf("关闭钩子 %s 失败: %v", h.name, err)
			return fmt.Errorf("%s: %w", h.name, err)
		}
		m.log.Infof("关闭钩子 %s 完成", h.name)
		return nil
	case <-ctx.Done():
		m.log.Errorf("关闭钩子 %s 超时 (%v)", h.name, m.timeout)
		return fmt.Errorf("%s: %w", h.name, ctx.Err())
	}
}

// Done returns a channel that's closed when shutdown is complete
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until shutdown is complete and returns its result
func (m *Manager) Wait() error {
	<-m.done
	return m.err
}
