package billingsdk

import "sync"

// Broadcaster delivers auth-state changes to subscribers. Delivery is
// synchronous with Publish and follows subscription order. Subscribers may
// call back into the Session; no lock is held while they run.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
	last   bool
}

type subscriber struct {
	id uint64
	fn func(loggedIn bool)
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn func(loggedIn bool)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every current subscriber.
func (b *Broadcaster) Publish(v bool) {
	b.mu.Lock()
	b.last = v
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Last returns the most recently published value.
func (b *Broadcaster) Last() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
