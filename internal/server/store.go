package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-pickup/internal/stats"
)

// DefaultRoomID is used when a participant connects without naming a room.
const DefaultRoomID = "default"

var ErrHubClosed = errors.New("hub closed")

// RoomStore owns every live room, keyed by room id. Rooms are created on
// first reference and unloaded once they have been idle for idleTimeout
// with no attached session. An idleTimeout of zero keeps rooms forever.
type RoomStore struct {
	log         *log.Logger
	stats       stats.StatsProvider
	idleTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewRoomStore(logger *log.Logger, su stats.StatsProvider, idleTimeout time.Duration) *RoomStore {
	return &RoomStore{
		log:         logger,
		stats:       su,
		idleTimeout: idleTimeout,
		now:         time.Now,
		rooms:       make(map[string]*Room),
	}
}

func normalizeRoomID(id string) string {
	if id == "" {
		return DefaultRoomID
	}
	return id
}

// GetOrCreate returns the room for id, creating it with the default state
// if it does not exist yet.
func (s *RoomStore) GetOrCreate(id string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getOrCreateLocked(normalizeRoomID(id))
}

// Lookup returns the room for id without creating it.
func (s *RoomStore) Lookup(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[normalizeRoomID(id)]
	return r, ok
}

func (s *RoomStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rooms)
}

func (s *RoomStore) getOrCreateLocked(id string) (*Room, error) {
	if s.closed {
		return nil, ErrHubClosed
	}

	if r, ok := s.rooms[id]; ok {
		return r, nil
	}

	r := newRoom(id, s)
	s.rooms[id] = r
	s.stats.Incr(metricActiveRooms)

	go r.start()

	return r, nil
}

// attach resolves the room for id and pins it so it cannot be unloaded
// until a matching detach.
func (s *RoomStore) attach(id string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.getOrCreateLocked(normalizeRoomID(id))
	if err != nil {
		return nil, err
	}

	r.refs++
	return r, nil
}

func (s *RoomStore) detach(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.refs > 0 {
		r.refs--
	}
}

// tryUnload removes r from the store if no session is attached to it.
// It is called from the room goroutine when its kill timer fires.
func (s *RoomStore) tryUnload(r *Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.refs > 0 {
		return false
	}

	if cur, ok := s.rooms[r.id]; ok && cur == r {
		delete(s.rooms, r.id)
	}

	s.log.Printf("unloaded idle room %q, %d rooms remaining", r.id, len(s.rooms))
	return true
}

// closeAll stops every room and waits for them to exit. No room can be
// created afterwards.
func (s *RoomStore) closeAll(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	rooms := make([]*Room, 0, len(s.rooms))
	for id, r := range s.rooms {
		rooms = append(rooms, r)
		delete(s.rooms, id)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		s.log.Println("shutting down room", r.id)
		close(r.exit)
	}

	for _, r := range rooms {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
