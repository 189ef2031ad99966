package queue

import (
	"sync"
)

// SubscriptionID identifies a change callback.
type SubscriptionID uint64

type subscribers struct {
	mu  sync.Mutex
	fns map[SubscriptionID]func()
}

func (s *subscribers) add(id SubscriptionID, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[SubscriptionID]func())
	}
	s.fns[id] = fn
}

func (s *subscribers) remove(id SubscriptionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fns, id)
}

// call invokes every callback outside the lock so callbacks may query the
// queue or unsubscribe themselves.
func (s *subscribers) call() {
	s.mu.Lock()
	if len(s.fns) == 0 {
		s.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn to run after any change anywhere in the queue.
// Callbacks run on the goroutine that made the change and must not block.
func (q *Queue) Subscribe(fn func()) SubscriptionID {
	id := SubscriptionID(q.nextSubID.Add(1))
	q.subs.add(id, fn)
	return id
}

// Unsubscribe removes a callback registered with Subscribe.
func (q *Queue) Unsubscribe(id SubscriptionID) {
	q.subs.remove(id)
}

// SubscribeCapability registers fn to run after changes to one bucket.
func (q *Queue) SubscribeCapability(capability string, fn func()) (SubscriptionID, error) {
	b, err := q.bucket(capability)
	if err != nil {
		return 0, err
	}
	id := SubscriptionID(q.nextSubID.Add(1))
	b.subs.add(id, fn)
	return id, nil
}

// UnsubscribeCapability removes a callback registered with SubscribeCapability.
func (q *Queue) UnsubscribeCapability(capability string, id SubscriptionID) {
	if b, err := q.bucket(capability); err == nil {
		b.subs.remove(id)
	}
}
