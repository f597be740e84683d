// Package events carries domain notifications from the simulation to the broadcaster.
// Producers publish while mutating state; the tick loop drains the queue once per tick,
// after the state change and before the broadcast pass.
package events

import (
	"time"

	"github.com/sasha-s/go-deadlock"

	"duckovtogether/internal/sim/loot"
)

type Event interface{ eventName() string }

type AIHealth struct {
	AIID      int32
	Health    float64
	MaxHealth float64
	Died      bool
}

type AIStrike struct {
	AIID   int32
	Target uint32
	Damage float64
}

type Violation struct {
	PeerID uint32
	Type   string
	Detail string
	Count  int
	At     time.Time
}

type SceneChanged struct {
	From string
	To   string
}

// VoteChanged carries the full vote state after any change; Votes maps peer id to ready.
type VoteChanged struct {
	Active bool
	Target string
	Votes  map[uint32]bool
}

type ContainerLooted struct {
	ContainerID string
	PeerID      uint32
}

type ItemDropped struct{ Drop loot.Drop }

type ItemPickedUp struct {
	DropID string
	PeerID uint32
}

type PlayerLeft struct{ PeerID uint32 }

func (AIHealth) eventName() string        { return "ai_health" }
func (AIStrike) eventName() string        { return "ai_strike" }
func (Violation) eventName() string       { return "violation" }
func (SceneChanged) eventName() string    { return "scene_changed" }
func (VoteChanged) eventName() string     { return "vote_changed" }
func (ContainerLooted) eventName() string { return "container_looted" }
func (ItemDropped) eventName() string     { return "item_dropped" }
func (ItemPickedUp) eventName() string    { return "item_picked_up" }
func (PlayerLeft) eventName() string      { return "player_left" }

func Name(e Event) string { return e.eventName() }

type Publisher interface {
	Publish(Event)
}

// Queue is a Publisher whose events are consumed in batches.
type Queue struct {
	mu  deadlock.Mutex
	buf []Event
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Publish(e Event) {
	if q == nil || e == nil {
		return
	}
	q.mu.Lock()
	q.buf = append(q.buf, e)
	q.mu.Unlock()
}

// Drain returns the pending events in publish order and empties the queue.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
