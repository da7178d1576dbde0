package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/npezzotti/go-pickup/internal/config"
	"github.com/npezzotti/go-pickup/internal/invite"
	"github.com/npezzotti/go-pickup/internal/server"
	"github.com/npezzotti/go-pickup/internal/stats"
	"github.com/npezzotti/go-pickup/internal/testutil"
	"github.com/stretchr/testify/mock"
)

type MockInviter struct {
	mock.Mock
}

func (m *MockInviter) Generate(roomID, role string) (*invite.Invite, error) {
	args := m.Called(roomID, role)
	inv, _ := args.Get(0).(*invite.Invite)
	return inv, args.Error(1)
}

func newTestHub(t *testing.T) *server.Hub {
	t.Helper()

	logger := testutil.TestLogger(t)
	su := stats.NewPermissiveMock()
	hub := server.NewHub(logger, server.NewRoomStore(logger, su, 0), su)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})
	return hub
}

func newTestApp(t *testing.T, inviter Inviter) *PickupApp {
	t.Helper()

	return NewPickupApp(http.NewServeMux(), testutil.TestLogger(t), newTestHub(t), inviter, &config.Config{
		ServerAddr: "localhost:3000",
		PublicPort: "3000",
	})
}
