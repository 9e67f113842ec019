package motion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fallguard/internal/model"
)

// Sensor is a pollable motion sensor.
type Sensor interface {
	Read() (model.Reading, error)
}

const DefaultInterval = 50 * time.Millisecond

// Poller samples a Sensor on a fixed interval and publishes into a Feed.
// Read errors are soft: the sample is skipped.
type Poller struct {
	sensor   Sensor
	feed     *Feed
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(sensor Sensor, feed *Feed, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{sensor: sensor, feed: feed, interval: interval, logger: logger}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	failing := false
	for {
		select {
		case <-ticker.C:
			r, err := p.sensor.Read()
			if err != nil {
				if !failing && p.logger != nil {
					p.logger.Warn("motion sensor unavailable", "error", err)
				}
				failing = true
				continue
			}
			failing = false
			p.feed.Publish(r)
		case <-ctx.Done():
			return
		}
	}
}
