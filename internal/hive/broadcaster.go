package hive

import (
	"sync"

	"github.com/minhtri2710/swarm-tools-sub001/internal/types"
)

// subscriptionBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind loses events; live streams recover by reconnecting
// with their last seen offset.
const subscriptionBuffer = 64

// broadcaster fans committed events out to in-memory subscribers. It is fed
// from the store's event sink and never blocks the appending transaction.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan *types.Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan *types.Event)}
}

// publish delivers event to every live subscriber, dropping it for any whose
// buffer is full.
func (b *broadcaster) publish(event *types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// subscribe registers a new subscriber. The cancel function is idempotent
// and closes the channel.
func (b *broadcaster) subscribe() (<-chan *types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *types.Event, subscriptionBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// close shuts the broadcaster down, closing every subscriber channel so
// long-lived stream handlers unblock.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
