// Package bus provides per-case in-process publish/subscribe for case status
// and advice events. Subscribers join a case room with a role (phw or
// specialist); delivery is best-effort within one connection lifetime and
// events are never persisted or replayed.
package bus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types delivered to case subscribers.
const (
	EventStatusUpdate = "STATUS_UPDATE"
	EventAdvicePush   = "ADVICE_PUSH"
	EventPing         = "PING"
)

// Event is a single message broadcast to a case room.
type Event struct {
	Type      string          `json:"type"`
	CaseID    string          `json:"case_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Advice    json.RawMessage `json:"advice,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Subscriber is one connected client inside a case room.
type Subscriber struct {
	ID     string
	CaseID string
	Role   string
	Send   chan []byte
}

// Hub tracks case rooms and their subscribers. All operations are
// thread-safe via sync.RWMutex.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Subscriber]struct{} // case id -> subscribers
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe joins a case room with the given role and returns the new
// subscriber. The returned Send channel is closed on unsubscribe; a reader
// must drain it until closed.
func (h *Hub) Subscribe(caseID, role string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New().String(),
		CaseID: caseID,
		Role:   role,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	if h.rooms[caseID] == nil {
		h.rooms[caseID] = make(map[*Subscriber]struct{})
	}
	h.rooms[caseID][sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Info().
		Str("case_id", caseID).
		Str("subscriber_id", sub.ID).
		Str("role", role).
		Msg("case room joined")

	return sub
}

// Unsubscribe removes the subscriber from its room and closes Send.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	room, ok := h.rooms[sub.CaseID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.CaseID)
	}
	close(sub.Send)
}

// Publish broadcasts an event to every subscriber of the case room. A
// subscriber whose send buffer is full is unsubscribed rather than allowed
// to block the publisher.
func (h *Hub) Publish(caseID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CaseID == "" {
		event.CaseID = caseID
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("case_id", caseID).Msg("marshal event")
		return
	}

	var slow []*Subscriber

	h.mu.RLock()
	for sub := range h.rooms[caseID] {
		select {
		case sub.Send <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, sub := range slow {
			h.removeLocked(sub)
			h.logger.Warn().
				Str("case_id", caseID).
				Str("subscriber_id", sub.ID).
				Msg("slow subscriber dropped")
		}
		h.mu.Unlock()
	}
}

// RoomCount returns the number of subscribers in a case room.
func (h *Hub) RoomCount(caseID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[caseID])
}

// ActiveCases returns the ids of cases with at least one subscriber.
func (h *Hub) ActiveCases() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}
