package server

import (
	"errors"
	"log"
	"time"

	"github.com/npezzotti/go-pickup/internal/types"
)

var ErrRoomClosed = errors.New("room closed")

// Snapshot is a point-in-time copy of a room.
type Snapshot struct {
	RoomID   string        `json:"room_id"`
	State    types.State   `json:"state"`
	Timeline []types.Event `json:"timeline"`
	Sessions int           `json:"sessions"`
}

type joinReq struct {
	sess *Session
	done chan struct{}
}

type leaveReq struct {
	sess *Session
	done chan struct{}
}

type updateReq struct {
	update Update
	result chan Snapshot
}

// Room is the single owner of one room's state, timeline and membership.
// Every mutation runs on the room goroutine, so the apply order is the
// order every member observes.
type Room struct {
	id       string
	store    *RoomStore
	log      *log.Logger
	state    types.State
	timeline *Timeline
	sessions map[*Session]struct{}
	// refs counts attached sessions; guarded by store.mu
	refs int

	joinChan     chan joinReq
	leaveChan    chan leaveReq
	updateChan   chan updateReq
	snapshotChan chan chan Snapshot

	// killTimer unloads the room once it has been empty for idleTimeout
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(id string, store *RoomStore) *Room {
	return &Room{
		id:           id,
		store:        store,
		log:          store.log,
		timeline:     NewTimeline(MaxTimelineEvents),
		sessions:     make(map[*Session]struct{}),
		joinChan:     make(chan joinReq),
		leaveChan:    make(chan leaveReq),
		updateChan:   make(chan updateReq),
		snapshotChan: make(chan chan Snapshot),
		exit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) start() {
	defer close(r.done)

	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(time.Hour)
	r.killTimer.Stop()
	// a room nobody joins still expires
	r.armKillTimer()

	for {
		select {
		case req := <-r.joinChan:
			r.handleJoin(req)
		case req := <-r.leaveChan:
			r.handleLeave(req)
		case req := <-r.updateChan:
			req.result <- r.handleUpdate(req.update)
		case reply := <-r.snapshotChan:
			reply <- r.snapshot()
		case <-r.killTimer.C:
			if r.handleRoomTimeout() {
				r.handleRoomExit()
				return
			}
		case <-r.exit:
			r.killTimer.Stop()
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) armKillTimer() {
	if r.store.idleTimeout > 0 {
		r.killTimer.Reset(r.store.idleTimeout)
	}
}

func (r *Room) handleJoin(req joinReq) {
	r.killTimer.Stop()

	sess := req.sess
	r.sessions[sess] = struct{}{}
	r.log.Printf("session %s (%s) joined room %q, %d sessions", sess.id, sess.role, r.id, len(r.sessions))

	// the joiner gets the current snapshot and nobody else does
	if !sess.queueMessage(StateUpdate(r.state.Clone())) ||
		!sess.queueMessage(TimelineSync(r.timeline.Events())) {
		r.dropSession(sess)
	}

	close(req.done)
}

func (r *Room) handleLeave(req leaveReq) {
	r.removeSession(req.sess)
	close(req.done)
}

func (r *Room) removeSession(sess *Session) {
	if _, ok := r.sessions[sess]; !ok {
		return
	}

	delete(r.sessions, sess)
	r.log.Printf("session %s left room %q, %d sessions", sess.id, r.id, len(r.sessions))

	if len(r.sessions) == 0 {
		r.log.Printf("no sessions in %q, starting kill timer", r.id)
		r.armKillTimer()
	}
}

// dropSession disconnects a session that cannot keep up. It is removed
// from the room immediately; its own cleanup still sends a leave.
func (r *Room) dropSession(sess *Session) {
	r.log.Printf("session %s in room %q is too slow, disconnecting", sess.id, r.id)
	sess.stopClient()
	r.removeSession(sess)
}

func (r *Room) handleUpdate(u Update) Snapshot {
	if label, ok := u.Apply(&r.state); ok {
		r.timeline.Append(r.store.now(), label)
	}
	r.store.stats.Incr(metricUpdates)

	r.broadcast(StateUpdate(r.state.Clone()), TimelineSync(r.timeline.Events()))

	return r.snapshot()
}

// broadcast queues msgs, in order, to every session in the room.
func (r *Room) broadcast(msgs ...*ServerMessage) {
	for sess := range r.sessions {
		for _, msg := range msgs {
			if !sess.queueMessage(msg) {
				r.dropSession(sess)
				break
			}
		}
	}
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		RoomID:   r.id,
		State:    r.state.Clone(),
		Timeline: r.timeline.Events(),
		Sessions: len(r.sessions),
	}
}

func (r *Room) handleRoomTimeout() bool {
	r.log.Printf("room %q timed out", r.id)
	if !r.store.tryUnload(r) {
		// a session is still attached or about to join
		if len(r.sessions) == 0 {
			r.armKillTimer()
		}
		return false
	}

	r.store.stats.Incr(metricEvictedRooms)
	return true
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.id)
	for sess := range r.sessions {
		sess.stopClient()
		delete(r.sessions, sess)
	}
	r.store.stats.Decr(metricActiveRooms)
}

func (r *Room) join(sess *Session) error {
	req := joinReq{sess: sess, done: make(chan struct{})}
	select {
	case r.joinChan <- req:
	case <-r.done:
		return ErrRoomClosed
	}

	<-req.done
	return nil
}

func (r *Room) leave(sess *Session) error {
	req := leaveReq{sess: sess, done: make(chan struct{})}
	select {
	case r.leaveChan <- req:
	case <-r.done:
		return ErrRoomClosed
	}

	<-req.done
	return nil
}

func (r *Room) update(u Update) (Snapshot, error) {
	req := updateReq{update: u, result: make(chan Snapshot, 1)}
	select {
	case r.updateChan <- req:
	case <-r.done:
		return Snapshot{}, ErrRoomClosed
	}

	return <-req.result, nil
}

// Snapshot returns the room's current state, timeline and session count.
func (r *Room) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case r.snapshotChan <- reply:
	case <-r.done:
		return Snapshot{}, ErrRoomClosed
	}

	return <-reply, nil
}
