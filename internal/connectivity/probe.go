package connectivity

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe reports whether the backend host is reachable at the TCP level and
// tells watchers when that changes.
type Probe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	dial     func(ctx context.Context, network, address string) (net.Conn, error)

	mu       sync.RWMutex
	online   bool
	watchers map[int]func(bool)
	nextID   int
}

// HostPort derives host:port from an http(s) or ws(s) URL.
func HostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// NewProbe starts optimistic: the host counts as online until a check fails.
func NewProbe(addr string, interval, timeout time.Duration, logger *zap.Logger) *Probe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &net.Dialer{}
	return &Probe{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		dial:     d.DialContext,
		online:   true,
		watchers: make(map[int]func(bool)),
	}
}

func (p *Probe) Online() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}

func (p *Probe) Watch(fn func(online bool)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

// Check dials once and records the outcome.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err == nil {
		_ = conn.Close()
	}
	online := err == nil
	p.set(online, err)
	return online
}

func (p *Probe) set(online bool, cause error) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	fns := make([]func(bool), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	if online {
		p.logger.Info("backend reachable again", zap.String("addr", p.addr))
	} else {
		p.logger.Warn("backend unreachable", zap.String("addr", p.addr), zap.Error(cause))
	}
	for _, fn := range fns {
		fn(online)
	}
}

// Run checks on every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
