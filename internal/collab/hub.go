package collab

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Hub owns the rooms. Each session gets at most one resident room; commands
// for different sessions run in parallel, commands for one session are
// serialized by its room.
type Hub struct {
	store    Store
	debounce time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(store Store, debounce time.Duration) *Hub {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Hub{
		store:    store,
		debounce: debounce,
		rooms:    make(map[string]*Room),
	}
}

// Create registers a brand-new session and starts its room.
func (h *Hub) Create(ctx context.Context, session *Session) (*Room, error) {
	if err := h.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room := newRoom(session, h.store, h.debounce)
	room.start()
	h.rooms[session.ID] = room
	return room, nil
}

// Room returns the resident room for a session, cold-loading the aggregate
// from the store when the session exists but has no room yet.
func (h *Hub) Room(ctx context.Context, sessionID string) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[sessionID]; ok {
		select {
		case <-room.stopped:
			delete(h.rooms, sessionID)
		default:
			return room, nil
		}
	}

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			return nil, notFound("session not found")
		}
		return nil, err
	}

	room := newRoom(session, h.store, h.debounce)
	room.start()
	h.rooms[sessionID] = room
	return room, nil
}

// Forget drops a room after its session was deleted.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	room, ok := h.rooms[sessionID]
	delete(h.rooms, sessionID)
	h.mu.Unlock()
	if ok {
		room.close()
	}
}

// Shutdown stops every resident room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, room := range rooms {
		room.close()
	}
}
