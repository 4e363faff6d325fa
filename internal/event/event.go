// Package event carries one-way notifications from the automation core to
// observers. Publishing never blocks: a subscriber whose buffer is full
// misses the event.
package event

import (
	"sync"
	"time"

	"github.com/verte-zerg/skillcast/internal/model"
)

// Kind identifies the notification carried by an Event.
type Kind int

const (
	KindLog Kind = iota
	KindStatus
	KindOverlay
	KindCoords
	KindSnapshot
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindStatus:
		return "status"
	case KindOverlay:
		return "overlay"
	case KindCoords:
		return "coords"
	case KindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// Overlay color hints.
const (
	ColorReady    = "#34C759"
	ColorPrompt   = "#FFD60A"
	ColorCast     = "#00FFFF"
	ColorFail     = "#FF453A"
	ColorComplete = "#00FF00"
)

// Event is a single notification. Only the fields of its Kind are set.
type Event struct {
	Kind    Kind
	Time    time.Time
	Message string
	Running bool
	Text    string
	Color   string
	Coords  model.GlobalCoordinates
	Skills  []model.SkillStatus
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	now    func() time.Time
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]chan Event{}, now: time.Now}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// func removes it and closes its channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
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

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
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

// Log publishes a log message.
func (b *Bus) Log(msg string) {
	b.Publish(Event{Kind: KindLog, Message: msg})
}

// Status publishes the running flag.
func (b *Bus) Status(running bool) {
	b.Publish(Event{Kind: KindStatus, Running: running})
}

// Overlay publishes transient overlay text with a color hint.
func (b *Bus) Overlay(text, color string) {
	b.Publish(Event{Kind: KindOverlay, Text: text, Color: color})
}

// Coords publishes a copy of the calibrated coordinates.
func (b *Bus) Coords(coords model.GlobalCoordinates) {
	b.Publish(Event{Kind: KindCoords, Coords: coords.Clone()})
}

// Snapshot publishes the per-skill verdicts of a tick.
func (b *Bus) Snapshot(skills []model.SkillStatus) {
	out := make([]model.SkillStatus, len(skills))
	copy(out, skills)
	b.Publish(Event{Kind: KindSnapshot, Skills: out})
}
