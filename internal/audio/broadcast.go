package audio

import "sync"

const subscriberBuffer = 50

// PCMSource hands out PCM frame subscriptions. The returned cancel func
// releases the subscription and closes its channel.
type PCMSource interface {
	Subscribe() (<-chan []byte, func())
}

// Broadcaster fans PCM frames out to subscribers. Slow subscribers lose
// frames rather than stall the producer.
type Broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan []byte
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan []byte)}
}

func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Broadcaster) Publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
