// Package events carries notifications from the core to whatever front end
// is attached: the CLI prints them, the HTTP bridge streams them.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Channel names follow the renderer's IPC channels.
type Channel string

const (
	Output             Channel = "pythonOutput"
	InstallationStatus Channel = "installationStatus"
	PrecomputeListed   Channel = "precomputeListed"
	DatabasesListed    Channel = "databasesListed"
	Log                Channel = "log"
)

// Event is one notification.
type Event struct {
	Channel Channel   `json:"channel"`
	Time    time.Time `json:"time"`
	Data    any       `json:"data"`
}

// OutputLine is the payload of an Output event.
type OutputLine struct {
	Line  string `json:"line"`
	Error bool   `json:"error"`
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscriber struct {
	ch      chan Event
	handler Handler
}

// Bus fans events out to subscribers. Channel subscribers that fall behind
// lose events instead of stalling the pipeline; Dropped counts them.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]subscriber
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Subscribe returns a buffered channel of events and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Event, buffer)
	id := b.add(subscriber{ch: ch})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.remove(id)
			close(ch)
		})
	}
}

// Handle registers h for every event. The returned function removes it.
func (b *Bus) Handle(h Handler) func() {
	id := b.add(subscriber{handler: h})
	return func() { b.remove(id) }
}

// Publish sends data on channel c.
func (b *Bus) Publish(c Channel, data any) {
	if b == nil {
		return
	}
	ev := Event{Channel: c, Time: time.Now(), Data: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.handler != nil {
			s.handler(ev)
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded for slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) add(s subscriber) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[b.nextID] = s
	return b.nextID
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
