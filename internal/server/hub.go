package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/npezzotti/go-pickup/internal/stats"
)

const (
	metricActiveRooms    = "NumActiveRooms"
	metricActiveSessions = "NumActiveSessions"
	metricUpdates        = "NumUpdates"
	metricEvictedRooms   = "NumEvictedRooms"
)

// maxUpdateAttempts bounds how often OnUpdate re-resolves a room that was
// unloaded between lookup and apply.
const maxUpdateAttempts = 3

var ErrRoomNotFound = errors.New("room not found")

// Hub routes joins, leaves and updates to rooms and fans the results out
// to every session of the affected room.
type Hub struct {
	log          *log.Logger
	store        *RoomStore
	stats        stats.StatsProvider
	sessions     map[*Session]struct{}
	sessionsLock sync.Mutex
}

func NewHub(logger *log.Logger, store *RoomStore, su stats.StatsProvider) *Hub {
	su.RegisterMetric(metricActiveRooms)
	su.RegisterMetric(metricActiveSessions)
	su.RegisterMetric(metricUpdates)
	su.RegisterMetric(metricEvictedRooms)

	return &Hub{
		log:      logger,
		store:    store,
		stats:    su,
		sessions: make(map[*Session]struct{}),
	}
}

func (h *Hub) Store() *RoomStore {
	return h.store
}

// OnJoin attaches sess to roomID and sends it the room's current state and
// timeline.
func (h *Hub) OnJoin(sess *Session, roomID string) error {
	roomID = normalizeRoomID(roomID)

	room, err := h.store.attach(roomID)
	if err != nil {
		return fmt.Errorf("attach room %q: %w", roomID, err)
	}

	sess.roomID = roomID
	sess.room = room

	if err := room.join(sess); err != nil {
		h.store.detach(room)
		sess.room = nil
		return fmt.Errorf("join room %q: %w", roomID, err)
	}

	h.addSession(sess)
	return nil
}

// OnUpdate applies u to roomID and broadcasts the result to the room.
func (h *Hub) OnUpdate(roomID string, u Update) (Snapshot, error) {
	roomID = normalizeRoomID(roomID)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		room, err := h.store.GetOrCreate(roomID)
		if err != nil {
			return Snapshot{}, err
		}

		snap, err := room.update(u)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		return snap, err
	}

	return Snapshot{}, ErrRoomClosed
}

// OnLeave removes sess from its room. The room state is not touched.
func (h *Hub) OnLeave(sess *Session) {
	room := sess.room
	if room == nil {
		return
	}

	if err := room.leave(sess); err != nil {
		h.log.Printf("leave room %q: %v", room.id, err)
	}
	h.store.detach(room)
	sess.room = nil

	h.removeSession(sess)
}

// Snapshot returns the current view of an existing room.
func (h *Hub) Snapshot(roomID string) (Snapshot, error) {
	room, ok := h.store.Lookup(roomID)
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	snap, err := room.Snapshot()
	if errors.Is(err, ErrRoomClosed) {
		return Snapshot{}, ErrRoomNotFound
	}
	return snap, err
}

func (h *Hub) addSession(sess *Session) {
	h.sessionsLock.Lock()
	defer h.sessionsLock.Unlock()

	h.sessions[sess] = struct{}{}
	h.stats.Incr(metricActiveSessions)
}

func (h *Hub) removeSession(sess *Session) {
	h.sessionsLock.Lock()
	defer h.sessionsLock.Unlock()

	if _, ok := h.sessions[sess]; ok {
		delete(h.sessions, sess)
		h.stats.Decr(metricActiveSessions)
	}
}

// Shutdown disconnects every session and stops every room.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Println("received shutdown signal")

	h.sessionsLock.Lock()
	for sess := range h.sessions {
		sess.stopClient()
	}
	h.sessionsLock.Unlock()

	if err := h.store.closeAll(ctx); err != nil {
		return fmt.Errorf("close rooms: %w", err)
	}

	return nil
}
