package core

import (
	"sync"

	"kami.app/kami-server/internal/store"
)

// DefaultFeedBuffer is the number of messages a subscriber may lag behind before it is dropped.
const DefaultFeedBuffer = 32

// Feed fans out appended messages to subscribers of a god, in append order.
type Feed struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription receives messages on C. C is closed when the subscription is closed or
// when the subscriber fell too far behind; the caller then re-reads the timeline.
type Subscription struct {
	C     <-chan store.Message
	ch    chan store.Message
	godID string
	feed  *Feed
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

func (f *Feed) Subscribe(godID string) *Subscription {
	ch := make(chan store.Message, f.buffer)
	sub := &Subscription{C: ch, ch: ch, godID: godID, feed: f}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[godID] == nil {
		f.subs[godID] = make(map[*Subscription]struct{})
	}
	f.subs[godID][sub] = struct{}{}
	return sub
}

// Publish never blocks. Subscribers with a full buffer are dropped.
func (f *Feed) Publish(m store.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[m.GodID] {
		select {
		case sub.ch <- m:
		default:
			f.removeLocked(sub)
		}
	}
}

// Subscribers returns the number of open subscriptions for a god.
func (f *Feed) Subscribers(godID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[godID])
}

func (s *Subscription) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.feed.removeLocked(s)
}

func (f *Feed) removeLocked(sub *Subscription) {
	subs, ok := f.subs[sub.godID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(f.subs, sub.godID)
	}
}
