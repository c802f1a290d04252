package services

import (
	"log"
	"sync"
	"time"
)

// EventType names every structured event the engine emits. The
// notification sink (the chat relay) is responsible for turning these into
// user-facing messages; the engine never formats text.
type EventType string

const (
	EventDuelCreated    EventType = "duel_created"
	EventDuelScheduled  EventType = "duel_scheduled"
	EventDuelActivated  EventType = "duel_activated"
	EventDuelCancelled  EventType = "duel_cancelled"
	EventPenaltyApplied EventType = "penalty_applied"
	EventDuelSettled    EventType = "duel_settled"
	EventDuelTimedOut   EventType = "duel_timed_out_no_winner"
	EventReminderDue    EventType = "reminder_due"
)

// Cancellation reasons carried in duel_cancelled events.
const (
	CancelReasonDeclined      = "declined"
	CancelReasonCancelled     = "cancelled"
	CancelReasonAcceptTimeout = "accept_timeout"
)

// ArrivalSummary describes a recorded arrival, used to report what the
// losing side had posted (if anything) when a duel settles.
type ArrivalSummary struct {
	SizeBytes int64     `json:"size_bytes"`
	Channel   string    `json:"channel"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// Event is the single envelope published to the notification sink. Fields
// are populated per type; unset ones are omitted from the JSON.
type Event struct {
	Type    EventType `json:"type"`
	PairKey string    `json:"pair_key,omitempty"`

	Challenger string `json:"challenger,omitempty"`
	Challenged string `json:"challenged,omitempty"`

	Reason string `json:"reason,omitempty"` // duel_cancelled

	Player   string `json:"player,omitempty"`    // penalty_applied
	NewScore *int64 `json:"new_score,omitempty"` // penalty_applied

	Winner            string          `json:"winner,omitempty"`
	Loser             string          `json:"loser,omitempty"`
	PointsAwarded     int64           `json:"points_awarded,omitempty"`
	ArtifactSizeBytes int64           `json:"artifact_size_bytes,omitempty"`
	ElapsedSeconds    int64           `json:"elapsed_seconds,omitempty"`
	LoserArrival      *ArrivalSummary `json:"loser_arrival,omitempty"`

	ScheduledStartAt *time.Time `json:"scheduled_start_at,omitempty"`
	EmittedAt        time.Time  `json:"emitted_at"`
}

// EventBus fans engine events out to subscribers (the SSE stream, tests).
// Publishing never blocks: a subscriber that falls behind loses events
// rather than stalling a settlement.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and a cancel func that must be
// called when the consumer goes away.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish stamps and delivers the event to all current subscribers.
func (b *EventBus) Publish(e Event) {
	if e.EmittedAt.IsZero() {
		e.EmittedAt = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			log.Printf("[EVENTS] subscriber %d lagging, dropped %s for %s", id, e.Type, e.PairKey)
		}
	}
}
