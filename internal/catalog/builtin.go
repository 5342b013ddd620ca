package catalog

import (
	"fmt"
	"time"

	"github.com/shepherd-project/corral/internal/logger"
	"github.com/shepherd-project/corral/internal/registry"
)

// echoService logs its message when it starts and stops
type echoService struct {
	message string
}

func newEcho(params map[string]string) (registry.Service, error) {
	msg := params["message"]
	if msg == "" {
		msg = "hello"
	}
	return &echoService{message: msg}, nil
}

func (s *echoService) Init(ctx *registry.ServiceContext) error {
	logger.WithFields(map[string]interface{}{
		"service":     ctx.Name,
		"executionId": ctx.ExecutionID.String(),
	}).Infof("echo 服务初始化: %s", s.message)
	return nil
}

func (s *echoService) Execute(ctx *registry.ServiceContext) error {
	<-ctx.Context().Done()
	return nil
}

func (s *echoService) Cancel(ctx *registry.ServiceContext) {
	logger.WithField("service", ctx.Name).Infof("echo 服务已取消: %s", s.message)
}

// tickerService logs a line on every interval until cancelled
type tickerService struct {
	interval time.Duration
	ticks    func()
}

func newTicker(params map[string]string) (registry.Service, error) {
	interval := 10 * time.Second
	if v := params["interval"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %s", d)
		}
		interval = d
	}
	return &tickerService{interval: interval}, nil
}

func (s *tickerService) Init(*registry.ServiceContext) error { return nil }

func (s *tickerService) Execute(ctx *registry.ServiceContext) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Context().Done():
			return nil
		case <-ticker.C:
			if s.ticks != nil {
				s.ticks()
			}
			logger.Debugf("ticker 服务: %s (%s)", ctx.Name, ctx.ExecutionID)
		}
	}
}

func (s *tickerService) Cancel(*registry.ServiceContext) {}
