// Package motion delivers device-motion readings to subscribers. Delivery is
// push based and best effort: a slow consumer may miss readings.
package motion

import (
	"context"
	"sync"

	"fallguard/internal/model"
)

type Source interface {
	Subscribe(fn func(model.Reading)) (Subscription, error)
}

type Subscription interface {
	// Unsubscribe is idempotent. A delivery already in flight may still
	// complete.
	Unsubscribe()
}

// Feed fans readings out to every subscriber, synchronously and in arrival
// order.
type Feed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(model.Reading)
	// deliver serialises Publish so subscribers see readings in order.
	deliver sync.Mutex
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(model.Reading))}
}

func (f *Feed) Subscribe(fn func(model.Reading)) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs[id] = fn
	return &feedSub{feed: f, id: id}, nil
}

func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

func (f *Feed) Publish(r model.Reading) {
	f.deliver.Lock()
	defer f.deliver.Unlock()
	f.mu.RLock()
	fns := make([]func(model.Reading), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()
	for _, fn := range fns {
		fn(r)
	}
}

// Run publishes readings from in until ctx is done or in is closed.
func (f *Feed) Run(ctx context.Context, in <-chan model.Reading) {
	for {
		select {
		case r, ok := <-in:
			if !ok {
				return
			}
			f.Publish(r)
		case <-ctx.Done():
			return
		}
	}
}

type feedSub struct {
	feed *Feed
	id   int
	once sync.Once
}

func (s *feedSub) Unsubscribe() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
	})
}
