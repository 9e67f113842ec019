// Package escalate carries escalations from the elder's device to the
// caregiver's. Delivery is at least once on every transport, so receivers
// pass messages through a Dedupe before ringing.
package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"fallguard/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, esc model.Escalation) error
	Close() error
}

type Subscriber interface {
	// Run delivers escalations to fn until ctx is done.
	Run(ctx context.Context, fn func(model.Escalation)) error
}

var ErrClosed = errors.New("escalation transport closed")

func Encode(esc model.Escalation) ([]byte, error) {
	return json.Marshal(esc)
}

func Decode(data []byte) (model.Escalation, error) {
	var esc model.Escalation
	if err := json.Unmarshal(data, &esc); err != nil {
		return model.Escalation{}, err
	}
	if esc.ID == "" {
		return model.Escalation{}, errors.New("escalation without id")
	}
	return esc, nil
}

// Local connects publisher and subscribers inside one process.
type Local struct {
	mu     sync.RWMutex
	subs   map[int]func(model.Escalation)
	nextID int
	closed bool
}

func NewLocal() *Local {
	return &Local{subs: make(map[int]func(model.Escalation))}
}

func (l *Local) Publish(_ context.Context, esc model.Escalation) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	fns := make([]func(model.Escalation), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn(esc)
	}
	return nil
}

func (l *Local) Run(ctx context.Context, fn func(model.Escalation)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.nextID++
	id := l.nextID
	l.subs[id] = fn
	l.mu.Unlock()
	<-ctx.Done()
	l.mu.Lock()
	delete(l.subs, id)
	l.mu.Unlock()
	return nil
}

// Subscribers is the number of running subscribers.
func (l *Local) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
