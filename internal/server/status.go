package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"codeblue/internal/notify"
)

const statusPollInterval = 60 * time.Second

// ServiceStatus is the cached health snapshot served by GET /status.
type ServiceStatus struct {
	Server      string `json:"server" example:"healthy"`
	Telephony   string `json:"telephony" example:"healthy"`
	LastChecked string `json:"last_checked,omitempty" format:"date-time"`
}

// statusPoller probes the telephony provider on a fixed interval and caches
// the result, so status requests never block on the provider.
type statusPoller struct {
	notifier notify.Notifier
	interval time.Duration

	mu      sync.RWMutex
	current ServiceStatus
}

func newStatusPoller(n notify.Notifier) *statusPoller {
	return &statusPoller{
		notifier: n,
		interval: statusPollInterval,
		current:  ServiceStatus{Server: "healthy", Telephony: "unknown"},
	}
}

func (p *statusPoller) run(ctx context.Context) {
	p.check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *statusPoller) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	state := "healthy"
	if err := p.notifier.Check(ctx); err != nil {
		state = "error"
		logrus.Warnf("telephony status check: %v", err)
	}
	p.mu.Lock()
	p.current = ServiceStatus{
		Server:      "healthy",
		Telephony:   state,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
	}
	p.mu.Unlock()
}

func (p *statusPoller) Status() ServiceStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}
