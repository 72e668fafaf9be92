package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/session-service/internal/domain"
	"github.com/cwrk-planet/session-service/internal/engine/enginetest"
	"github.com/cwrk-planet/session-service/internal/session"
	"github.com/cwrk-planet/session-service/internal/transport/ws"
)

func newTestRouter(t *testing.T) (http.Handler, *session.Registry) {
	t.Helper()
	hub := ws.NewHub()
	dispatcher := ws.NewDispatcher(hub)
	t.Cleanup(dispatcher.Stop)
	registry := session.NewRegistry(enginetest.New(), dispatcher, session.Options{
		RoomGracePeriod:   time.Minute,
		EngineCallTimeout: time.Second,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return NewRouter(NewHandler(registry), ws.NewServer(hub, registry)), registry
}

func TestGetSession(t *testing.T) {
	router, registry := newTestRouter(t)

	_, err := registry.Join(context.Background(), session.Session{
		ClassID: "C1", UserID: "alice", Name: "Alice",
		Role: domain.RoleTeacher, ConnID: "conn-a",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classes/C1/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "C1", resp.ClassID)
	require.Equal(t, 1, resp.ParticipantCount)
	require.False(t, resp.CreatedAt.IsZero())
}

func TestGetSessionUnknownClass(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classes/nope/session", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Error)
}

func TestGetParticipants(t *testing.T) {
	router, registry := newTestRouter(t)
	ctx := context.Background()

	for _, u := range []struct {
		id   string
		role domain.Role
	}{{"alice", domain.RoleTeacher}, {"bob", domain.RoleStudent}} {
		_, err := registry.Join(ctx, session.Session{
			ClassID: "C1", UserID: u.id, Name: u.id,
			Role: u.role, ConnID: "conn-" + u.id,
		})
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classes/C1/participants", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var items []ParticipantItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classes/empty/participants", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
