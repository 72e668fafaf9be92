package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/session-service/internal/domain"
	"github.com/cwrk-planet/session-service/internal/session"
)

// Server is the signaling gateway: one persistent websocket per client,
// each inbound request handled in its own goroutine against the session
// registry. The caller always gets a response, even when the follow-up
// broadcast cannot be delivered.
type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	registry *session.Registry

	pingEvery       time.Duration
	teardownTimeout time.Duration
}

func NewServer(hub *Hub, registry *session.Registry) *Server {
	return &Server{
		hub:      hub,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery:       15 * time.Second,
		teardownTimeout: 30 * time.Second,
	}
}

// WS endpoint: GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWSConn(conn)
	slog.Debug("ws connected", "conn", c.id)

	go s.writeLoop(r.Context(), c)
	s.readLoop(r.Context(), c)

	// Teardown runs on its own context: the client is gone, but orphaned
	// resources must not be. Identical to an explicit leave.
	if sess := c.session(); sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.teardownTimeout)
		if err := s.registry.Leave(ctx, *sess); err != nil {
			slog.Warn("ws disconnect cleanup failed",
				"class", sess.ClassID, "user", sess.UserID, "err", err)
		}
		cancel()
		s.hub.Remove(sess.ClassID, c.id)
	}

	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "conn", c.id, "err", err)
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("ws read failed", "conn", c.id, "err", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.Type == "" {
			_ = c.write(Response{
				Type:    TypeResponse,
				Success: false,
				Error:   &ErrorInfo{Code: string(domain.CodeValidation), Message: "malformed request"},
			})
			continue
		}
		// Every message gets its own handler task; slow engine calls on one
		// request never stall the connection's other requests.
		go s.handle(ctx, c, req)
	}
}

func (s *Server) handle(ctx context.Context, c *wsConn, req Request) {
	data, err := s.dispatch(ctx, c, req)

	if isNotify(req.Type) && req.ID == "" && err == nil {
		return
	}

	resp := Response{Type: TypeResponse, ID: req.ID, Success: err == nil, Data: data}
	if err != nil {
		resp.Error = errorInfo(err)
		sess := c.session()
		attrs := []any{"conn", c.id, "req", req.Type, "code", resp.Error.Code, "err", err}
		if sess != nil {
			attrs = append(attrs, "class", sess.ClassID, "user", sess.UserID)
		}
		slog.Info("request failed", attrs...)
	}
	// The response to the caller is never skipped; a failed broadcast is
	// the dispatcher's problem, not this request's.
	if err := c.write(resp); err != nil {
		slog.Debug("ws response dropped", "conn", c.id, "req", req.Type, "err", err)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, req Request) (any, error) {
	switch req.Type {
	case TypeJoinClass:
		return s.handleJoin(ctx, c, req.Payload)

	case TypeRouterRtpCapabilities:
		var p ClassPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		classID := p.ClassID
		if classID == "" {
			if sess := c.session(); sess != nil {
				classID = sess.ClassID
			}
		}
		caps, err := s.registry.RouterCapabilities(classID)
		if err != nil {
			return nil, err
		}
		return RtpCapabilitiesData{RTPCapabilities: caps}, nil

	case TypeCreateTransport:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p CreateTransportPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := sameClass(sess, p.ClassID); err != nil {
			return nil, err
		}
		t, err := s.registry.CreateTransport(ctx, *sess, p.Direction)
		if err != nil {
			return nil, err
		}
		return CreateTransportData{Transport: t}, nil

	case TypeConnectTransport:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p ConnectTransportPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.registry.ConnectTransport(ctx, *sess, p.TransportID, p.DTLSParameters); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case TypeProduce:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p ProducePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := sameClass(sess, p.ClassID); err != nil {
			return nil, err
		}
		producerID, err := s.registry.Produce(ctx, *sess, p.TransportID, p.Kind, p.RTPParameters)
		if err != nil {
			return nil, err
		}
		return ProduceData{ProducerID: producerID}, nil

	case TypeConsume:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p ConsumePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		consumer, err := s.registry.Consume(ctx, *sess, p.TransportID, p.ProducerID, p.RTPCapabilities)
		if err != nil {
			return nil, err
		}
		return ConsumeData{Consumer: consumer}, nil

	case TypeResumeConsumer:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p ResumeConsumerPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.registry.ResumeConsumer(ctx, *sess, p.ConsumerID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case TypeCloseProducer:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p CloseProducerPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := s.registry.CloseProducer(ctx, *sess, p.ProducerID); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	case TypeExistingProducers:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p ClassPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if err := sameClass(sess, p.ClassID); err != nil {
			return nil, err
		}
		producers, err := s.registry.ExistingProducers(*sess)
		if err != nil {
			return nil, err
		}
		return ExistingProducersData{ExistingProducers: producers}, nil

	case TypeMediaStateChanged:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var state map[string]any
		if err := decode(req.Payload, &state); err != nil {
			return nil, err
		}
		return struct{}{}, s.registry.RelayMediaState(*sess, state)

	case TypeGrantPermission, TypeRevokePermission:
		sess, err := s.joined(c)
		if err != nil {
			return nil, err
		}
		var p PermissionPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if req.Type == TypeGrantPermission {
			return struct{}{}, s.registry.GrantPermission(*sess, p.StudentID, p.Permission)
		}
		return struct{}{}, s.registry.RevokePermission(*sess, p.StudentID, p.Permission)

	default:
		return nil, domain.Validation("unknown request type %q", req.Type)
	}
}

func (s *Server) handleJoin(ctx context.Context, c *wsConn, payload json.RawMessage) (any, error) {
	var p JoinClassPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}

	sess := session.Session{
		ClassID: p.ClassID,
		UserID:  p.UserID,
		Name:    p.Name,
		Role:    p.UserRole,
		ConnID:  c.id,
	}
	// Claim the connection before touching the registry. Handlers run
	// concurrently, so a plain nil check would let two joinClass frames
	// both pass and register the connection in two rooms, while teardown
	// only leaves one.
	if !c.claimSession(sess) {
		return nil, domain.Validation("connection already joined a class")
	}
	result, err := s.registry.Join(ctx, sess)
	if err != nil {
		c.clearSession()
		return nil, err
	}

	s.hub.Add(sess.ClassID, c)
	return result, nil
}

func (s *Server) joined(c *wsConn) (*session.Session, error) {
	sess := c.session()
	if sess == nil {
		return nil, domain.Validation("joinClass must complete first")
	}
	return sess, nil
}

func sameClass(sess *session.Session, classID string) error {
	if classID != "" && classID != sess.ClassID {
		return domain.Validation("classId %q does not match the joined class", classID)
	}
	return nil
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return domain.Validation("missing request payload")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return domain.Validation("malformed request payload")
	}
	return nil
}

func errorInfo(err error) *ErrorInfo {
	var de *domain.Error
	if errors.As(err, &de) {
		return &ErrorInfo{Code: string(de.Code), Message: de.Message}
	}
	return &ErrorInfo{Code: string(domain.CodeEngine), Message: err.Error()}
}

func isNotify(reqType string) bool {
	switch reqType {
	case TypeMediaStateChanged, TypeGrantPermission, TypeRevokePermission:
		return true
	}
	return false
}

type wsConn struct {
	conn   *websocket.Conn
	id     string
	sendMu chan struct{}
	closed chan struct{}
	sess   atomic.Pointer[session.Session]
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		id:     uuid.NewString(),
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg Message) error { return c.write(msg) }

func (c *wsConn) write(v any) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(v)
}

func (c *wsConn) session() *session.Session { return c.sess.Load() }

// claimSession atomically binds the connection to s; it fails if another
// join already claimed it.
func (c *wsConn) claimSession(s session.Session) bool {
	return c.sess.CompareAndSwap(nil, &s)
}

func (c *wsConn) clearSession() { c.sess.Store(nil) }

func (c *wsConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}

	return c.conn.Close()
}
