package connectivity

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pinger checks gateway reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Setter receives reachability changes. The offline queue implements it.
type Setter interface {
	SetOnline(ctx context.Context, online bool)
}

// Listener probes the gateway on an interval and reports every change of
// reachability to its Setter.
type Listener struct {
	pinger   Pinger
	setter   Setter
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	last     *bool
}

// NewListener creates a listener. It does nothing until Start.
func NewListener(p Pinger, s Setter, interval, timeout time.Duration, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		pinger:   p,
		setter:   s,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// ProbeOnce pings the gateway once and reports whether it answered within timeout.
func ProbeOnce(ctx context.Context, p Pinger, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Ping(ctx) == nil
}

// Start probes immediately, then on every tick until Stop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.loop(ctx)
}

// Stop ends the probe loop and waits for it to exit.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.probe(ctx)
	for {
		select {
		case <-ticker.C:
			l.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) probe(ctx context.Context) {
	online := ProbeOnce(ctx, l.pinger, l.timeout)
	if ctx.Err() != nil {
		return
	}
	if l.last != nil && *l.last == online {
		return
	}
	l.last = &online
	l.logger.Info("gateway reachability changed", zap.Bool("online", online))
	l.setter.SetOnline(ctx, online)
}
