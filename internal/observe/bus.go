// Package observe delivers work state changes to in-process observers.
//
// Each subscription owns a mailbox keyed by record id that keeps only the
// latest undelivered update per id, plus one goroutine that drains it. A slow
// observer may miss intermediate states of a record but always ends up seeing
// its latest state, and never slows down the publisher.
package observe

import (
	"sync"
	"sync/atomic"
	"time"

	"workmgr/internal/work"
	logx "workmgr/pkg/logx"
)

// Update is one observed state of a record.
type Update struct {
	ID              string
	State           work.State
	Output          work.Data
	RunAttemptCount int
	At              time.Time
}

// All subscribes to every record.
const All = ""

type Bus struct {
	log logx.Logger

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	seq    atomic.Uint64
	closed bool

	wg sync.WaitGroup
}

func NewBus(log logx.Logger) *Bus {
	return &Bus{log: log, subs: map[uint64]*subscription{}}
}

type subscription struct {
	id string // record id, or All
	fn func(Update)

	mu      sync.Mutex
	pending map[string]Update
	order   []string

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Subscribe registers fn for updates of record id (All for every record).
// The returned function unsubscribes; it is idempotent and may be called from
// inside fn.
func (b *Bus) Subscribe(id string, fn func(Update)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s := &subscription{
		id:      id,
		fn:      fn,
		pending: map[string]Update{},
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	key := b.seq.Add(1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[key] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go b.deliver(s)

	return func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, key)
			b.mu.Unlock()
			close(s.done)
		})
	}
}

// Publish records u in every matching mailbox. It never blocks on observers.
func (b *Bus) Publish(u Update) {
	if u.At.IsZero() {
		u.At = time.Now()
	}
	u.Output = u.Output.Clone()

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.id == All || s.id == u.ID {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.offer(u)
	}
}

// Close unsubscribes everyone and waits for delivery goroutines to exit.
// Callbacks already running are allowed to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = map[uint64]*subscription{}
	b.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() { close(s.done) })
	}
	b.wg.Wait()
}

// Reopen lets a closed bus accept subscriptions again.
func (b *Bus) Reopen() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *subscription) offer(u Update) {
	s.mu.Lock()
	if _, ok := s.pending[u.ID]; !ok {
		s.order = append(s.order, u.ID)
	}
	s.pending[u.ID] = u
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) take() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return Update{}, false
	}
	id := s.order[0]
	s.order = s.order[1:]
	u := s.pending[id]
	delete(s.pending, id)
	return u, true
}

func (b *Bus) deliver(s *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			select {
			case <-s.done:
				return
			default:
			}
			u, ok := s.take()
			if !ok {
				break
			}
			b.call(s, u)
		}
	}
}

func (b *Bus) call(s *subscription, u Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("observer panicked", logx.String("id", u.ID), logx.Any("panic", r))
		}
	}()
	s.fn(u)
}
