package infra

import "sync"

// EventType represents the type of event in the system
type EventType int

const (
	PageFetched EventType = iota
	PageCheckpointed
	PageClassified
	HarvestCompleted
	DiscrepancyFound
	RunCompleted
)

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case PageFetched:
		return "PageFetched"
	case PageCheckpointed:
		return "PageCheckpointed"
	case PageClassified:
		return "PageClassified"
	case HarvestCompleted:
		return "HarvestCompleted"
	case DiscrepancyFound:
		return "DiscrepancyFound"
	case RunCompleted:
		return "RunCompleted"
	default:
		return "Unknown"
	}
}

type Event interface{ EventType() EventType }
type Handler func(Event)

// Bus delivers events synchronously, in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Handler
}

func NewBus() *Bus { return &Bus{subs: map[EventType][]Handler{}} }

// Publish is a no-op on a nil Bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := b.subs[e.EventType()]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (b *Bus) Subscribe(evt EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[evt] = append(b.subs[evt], h)
}
