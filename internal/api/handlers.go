package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-pickup/internal/invite"
	"github.com/npezzotti/go-pickup/internal/server"
)

type CreateRoomResponse struct {
	RoomId string `json:"room_id"`
	*invite.Invite
}

func (s *PickupApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *PickupApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func roomParam(r *http.Request) string {
	if room := r.URL.Query().Get("room"); room != "" {
		return room
	}
	return server.DefaultRoomID
}

func (s *PickupApp) invite(w http.ResponseWriter, r *http.Request) {
	inv, err := s.inviter.Generate(roomParam(r), r.URL.Query().Get("role"))
	if err != nil {
		s.log.Println("generate invite:", err)
		errResp := NewInviteError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, inv)
}

func (s *PickupApp) createRoom(w http.ResponseWriter, r *http.Request) {
	roomId, err := s.newRoomID()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.hub.Store().GetOrCreate(roomId); err != nil {
		s.log.Printf("create room %q: %v", roomId, err)
		errResp := NewServiceUnavailableError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	inv, err := s.inviter.Generate(roomId, r.URL.Query().Get("role"))
	if err != nil {
		s.log.Println("generate invite:", err)
		errResp := NewInviteError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, CreateRoomResponse{
		RoomId: roomId,
		Invite: inv,
	})
}

func (s *PickupApp) getRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.hub.Snapshot(r.PathValue("id"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, server.ErrRoomNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, snap)
}

// checkOrigin accepts same-origin requests, requests without an Origin
// header, and configured origins.
func (s *PickupApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin) {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func (s *PickupApp) serveWs(w http.ResponseWriter, r *http.Request) {
	roomId := roomParam(r)
	role := r.URL.Query().Get("role")

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	sess := server.NewSession(conn, s.hub, roomId, role, s.log)
	if err := s.hub.OnJoin(sess, roomId); err != nil {
		s.log.Println("join:", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"))
		conn.Close()
		return
	}

	go sess.Write()
	go sess.Read()
}
