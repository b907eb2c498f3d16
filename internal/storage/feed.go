package storage

import (
	"context"
	"sync"

	"github.com/sonder-map/sonder/internal/queue"
	"github.com/sonder-map/sonder/pkg/core"
)

// Feed fans changes out to subscribers. Each subscriber has its own
// unbounded queue drained by one goroutine, so a slow consumer never blocks
// a writer and deliveries stay in publish order.
//
// Backends must hold their own write lock around snapshot+Subscribe and
// around mutate+Publish so no change is lost or duplicated between them.
type Feed struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	next   uint64
	closed bool
}

type delivery struct {
	change core.Change
	err    error
}

type subscription struct {
	q        *queue.Queue[delivery]
	done     chan struct{}
	once     sync.Once
	onChange ChangeFunc
	onError  ErrorFunc
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a subscriber, primed with snapshot, that runs until
// ctx is done or the returned Unsubscribe is called.
func (f *Feed) Subscribe(ctx context.Context, snapshot []core.Change, onChange ChangeFunc, onError ErrorFunc) Unsubscribe {
	sub := &subscription{
		q:        queue.New[delivery](),
		done:     make(chan struct{}),
		onChange: onChange,
		onError:  onError,
	}
	for _, c := range snapshot {
		sub.q.Push(delivery{change: c})
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.stop()
		return func() {}
	}
	id := f.next
	f.next++
	f.subs[id] = sub
	f.mu.Unlock()

	go sub.run(ctx)

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		sub.stop()
	}
}

// Publish queues changes for every current subscriber.
func (f *Feed) Publish(changes ...core.Change) {
	if len(changes) == 0 {
		return
	}
	items := make([]delivery, len(changes))
	for i, c := range changes {
		items[i] = delivery{change: c}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.q.Push(items...)
	}
}

// Fail reports a stream-level error to every subscriber.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.q.Push(delivery{err: err})
	}
}

// Len returns the number of live subscribers.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close stops every subscriber. Later Subscribe calls return immediately.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[uint64]*subscription)
	f.closed = true
	f.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run(ctx context.Context) {
	for {
		for _, d := range s.q.GetAndEmpty() {
			select {
			case <-s.done:
				return
			default:
			}
			if d.err != nil {
				if s.onError != nil {
					s.onError(d.err)
				}
				continue
			}
			if s.onChange != nil {
				s.onChange(d.change)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.q.Ready():
		}
	}
}
