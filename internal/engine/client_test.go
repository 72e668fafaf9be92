package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/session-service/internal/domain"
)

func newClientFor(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := NewClient(ClientOptions{Addr: ts.URL, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestClientGetOrCreateRouter(t *testing.T) {
	c := newClientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/routers/math-101", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"classId": "math-101",
			"rtpCapabilities": map[string]any{
				"codecs": []map[string]any{{"mimeType": "audio/opus", "clockRate": 48000}},
			},
		})
	}))

	router, err := c.GetOrCreateRouter(context.Background(), "math-101")
	require.NoError(t, err)
	require.Equal(t, "math-101", router.ClassID)
	require.Len(t, router.RTPCapabilities.Codecs, 1)
	require.Equal(t, "audio/opus", router.RTPCapabilities.Codecs[0].MimeType)
}

func TestClientCreateProducer(t *testing.T) {
	var got CreateProducerRequest
	c := newClientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/producers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"producerId": "p-42"})
	}))

	id, err := c.CreateProducer(context.Background(), CreateProducerRequest{
		TransportID: "t-1",
		Kind:        domain.MediaVideo,
		UserID:      "alice",
		ClassID:     "math-101",
	})
	require.NoError(t, err)
	require.Equal(t, "p-42", id)
	require.Equal(t, "t-1", got.TransportID)
	require.Equal(t, domain.MediaVideo, got.Kind)
}

func TestClientParticipantLifecycle(t *testing.T) {
	var methods []string
	c := newClientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/routers/math-101/participants/alice", r.URL.Path)
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx := context.Background()
	require.NoError(t, c.AddParticipant(ctx, "math-101", "alice", ParticipantMeta{Name: "Alice", Role: domain.RoleTeacher}))
	require.NoError(t, c.RemoveParticipant(ctx, "math-101", "alice"))
	require.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
}

func TestClientGetExistingProducers(t *testing.T) {
	c := newClientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/routers/math-101/producers", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"producers": []map[string]any{
				{"producerId": "p-1", "userId": "alice", "kind": "video"},
				{"producerId": "p-2", "userId": "alice", "kind": "audio"},
			},
		})
	}))

	producers, err := c.GetExistingProducers(context.Background(), "math-101")
	require.NoError(t, err)
	require.Len(t, producers, 2)
	require.Equal(t, "p-1", producers[0].ProducerID)
	require.Equal(t, domain.MediaAudio, producers[1].Kind)
}

func TestClientErrorStatusIsEngineError(t *testing.T) {
	c := newClientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "router crashed"})
	}))

	err := c.CloseProducer(context.Background(), "p-1")
	require.Error(t, err)
	require.True(t, domain.IsCode(err, domain.CodeEngine), "got %v", err)
	require.Contains(t, err.Error(), "router crashed")
}

func TestClientErrorStatusPlainBody(t *testing.T) {
	c := newClientFor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("worker died"))
	}))

	err := c.ResumeConsumer(context.Background(), "c-1")
	require.True(t, domain.IsCode(err, domain.CodeEngine), "got %v", err)
	require.Contains(t, err.Error(), "worker died")
}

func TestClientUnreachableEngine(t *testing.T) {
	c, err := NewClient(ClientOptions{Addr: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.GetOrCreateRouter(context.Background(), "math-101")
	require.True(t, domain.IsCode(err, domain.CodeEngine), "got %v", err)
}

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	require.Error(t, err)
}
