package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/singleflight"

	"github.com/cwrk-planet/session-service/internal/domain"
	"github.com/cwrk-planet/session-service/internal/engine"
)

const (
	defaultRoomGracePeriod   = 15 * time.Second
	defaultEngineCallTimeout = 10 * time.Second
)

type Options struct {
	// RoomGracePeriod is how long an empty room survives before teardown,
	// tolerating quick reconnects.
	RoomGracePeriod time.Duration
	// EngineCallTimeout bounds every call into the media engine; a timeout
	// surfaces as an engine error.
	EngineCallTimeout time.Duration
	Logger            *slog.Logger
}

// Registry is the authoritative owner of all live class sessions. It is
// the only component that reads or writes rooms, participants and media
// resources; the signaling layer goes through its operations and never
// touches the tables directly.
type Registry struct {
	engine      engine.Engine
	sink        EventSink
	log         *slog.Logger
	grace       time.Duration
	callTimeout time.Duration

	mu       sync.RWMutex
	rooms    map[string]*room
	creating singleflight.Group
}

func NewRegistry(eng engine.Engine, sink EventSink, opts Options) *Registry {
	if opts.RoomGracePeriod <= 0 {
		opts.RoomGracePeriod = defaultRoomGracePeriod
	}
	if opts.EngineCallTimeout <= 0 {
		opts.EngineCallTimeout = defaultEngineCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		engine:      eng,
		sink:        sink,
		log:         opts.Logger,
		grace:       opts.RoomGracePeriod,
		callTimeout: opts.EngineCallTimeout,
		rooms:       make(map[string]*room),
	}
}

func (r *Registry) engineCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.callTimeout)
}

func (r *Registry) room(classID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[classID]
}

// getOrCreateRoom returns the room for classID, creating it at most once
// no matter how many first joiners race: concurrent creations for the
// same class collapse into a single engine router request.
func (r *Registry) getOrCreateRoom(ctx context.Context, classID string) (*room, error) {
	if rm := r.room(classID); rm != nil {
		return rm, nil
	}
	v, err, _ := r.creating.Do(classID, func() (any, error) {
		if rm := r.room(classID); rm != nil {
			return rm, nil
		}
		cctx, cancel := r.engineCtx(ctx)
		defer cancel()
		router, err := r.engine.GetOrCreateRouter(cctx, classID)
		if err != nil {
			return nil, domain.EngineFailure(err)
		}
		rm := newRoom(classID, router.RTPCapabilities)
		r.mu.Lock()
		r.rooms[classID] = rm
		r.mu.Unlock()
		r.log.Info("room created", "class", classID)
		return rm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*room), nil
}

// lockedRoom finds the live room for sess and returns it with its lock
// held together with the caller's participant record.
func (r *Registry) lockedRoom(sess Session) (*room, *domain.Participant, error) {
	rm := r.room(sess.ClassID)
	if rm == nil {
		return nil, nil, domain.NotFound("no active room for class %s", sess.ClassID)
	}
	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil, nil, domain.NotFound("no active room for class %s", sess.ClassID)
	}
	p, ok := rm.dir.byConnID(sess.ConnID)
	if !ok {
		rm.mu.Unlock()
		return nil, nil, domain.NotFound("connection is not a participant of class %s", sess.ClassID)
	}
	return rm, p, nil
}

// emitLocked hands events to the sink while the room lock is still held,
// so broadcast order within a room matches state transition order.
func (r *Registry) emitLocked(rm *room, events []Event) {
	if len(events) == 0 || r.sink == nil {
		return
	}
	r.sink.Dispatch(rm.classID, events)
}

// Join admits sess into its class, creating the room on first use. Any
// resources left over from a previous session of the same user are
// reclaimed before the participant is registered.
func (r *Registry) Join(ctx context.Context, sess Session) (JoinResult, error) {
	if sess.ClassID == "" || sess.UserID == "" || sess.ConnID == "" {
		return JoinResult{}, domain.Validation("classId and userId are required")
	}
	if sess.Role == "" {
		sess.Role = domain.RoleStudent
	}
	if sess.Role != domain.RoleTeacher && sess.Role != domain.RoleStudent {
		return JoinResult{}, domain.Validation("unknown role %q", sess.Role)
	}

	var rm *room
	for {
		candidate, err := r.getOrCreateRoom(ctx, sess.ClassID)
		if err != nil {
			return JoinResult{}, err
		}
		candidate.mu.Lock()
		if candidate.closed {
			// Lost a race against grace-period teardown; create afresh.
			candidate.mu.Unlock()
			continue
		}
		rm = candidate
		break
	}
	defer rm.mu.Unlock()

	rm.stopGraceLocked()

	var events []Event
	r.reclaimLocked(ctx, rm, sess.UserID, &events)

	cctx, cancel := r.engineCtx(ctx)
	err := r.engine.AddParticipant(cctx, sess.ClassID, sess.UserID, engine.ParticipantMeta{
		Name: sess.Name,
		Role: sess.Role,
	})
	cancel()
	if err != nil {
		// The reclaim closes above already happened; tell the room about
		// them even though the join itself failed.
		if rm.dir.count() == 0 {
			r.scheduleTeardownLocked(rm)
		}
		r.emitLocked(rm, events)
		return JoinResult{}, domain.EngineFailure(err)
	}

	p := &domain.Participant{
		UserID:   sess.UserID,
		Name:     sess.Name,
		Role:     sess.Role,
		ConnID:   sess.ConnID,
		JoinedAt: time.Now(),
	}
	if old := rm.dir.add(p); old != nil {
		r.log.Info("participant reconnected",
			"class", sess.ClassID, "user", sess.UserID, "oldConn", old.ConnID)
	}

	events = append(events, Event{
		Type: EventUserJoined,
		Payload: UserJoinedPayload{
			UserID:   sess.UserID,
			UserName: sess.Name,
			UserRole: sess.Role,
			SocketID: sess.ConnID,
		},
		ExcludeConn: sess.ConnID,
	})

	result := JoinResult{
		RTPCapabilities:   rm.rtpCapabilities,
		ExistingProducers: rm.existingProducers(sess.UserID),
	}
	r.emitLocked(rm, events)
	r.log.Info("participant joined", "class", sess.ClassID, "user", sess.UserID, "role", sess.Role)
	return result, nil
}

// Leave removes sess from its room, cascading resource cleanup. Used for
// explicit leaves and for connection teardown alike; a stale connection
// (already replaced by a reconnect) is a no-op.
func (r *Registry) Leave(ctx context.Context, sess Session) error {
	rm := r.room(sess.ClassID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.dir.byConnID(sess.ConnID)
	if !ok {
		return nil
	}

	var events []Event
	r.reclaimLocked(ctx, rm, p.UserID, &events)
	rm.dir.removeConn(sess.ConnID)

	cctx, cancel := r.engineCtx(ctx)
	if err := r.engine.RemoveParticipant(cctx, rm.classID, p.UserID); err != nil {
		r.log.Warn("engine remove participant failed",
			"class", rm.classID, "user", p.UserID, "err", err)
	}
	cancel()

	events = append(events, Event{
		Type:        EventUserLeft,
		Payload:     UserLeftPayload{UserID: p.UserID, Name: p.Name},
		ExcludeConn: sess.ConnID,
	})

	if rm.dir.count() == 0 {
		r.scheduleTeardownLocked(rm)
	}
	r.emitLocked(rm, events)
	r.log.Info("participant left", "class", rm.classID, "user", p.UserID)
	return nil
}

func (r *Registry) scheduleTeardownLocked(rm *room) {
	rm.stopGraceLocked()
	rm.graceTimer = time.AfterFunc(r.grace, func() { r.teardown(rm) })
}

func (r *Registry) teardown(rm *room) {
	rm.mu.Lock()
	if rm.closed || rm.dir.count() > 0 {
		rm.mu.Unlock()
		return
	}
	rm.closed = true
	rm.mu.Unlock()

	r.mu.Lock()
	if r.rooms[rm.classID] == rm {
		delete(r.rooms, rm.classID)
	}
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Dispatch(rm.classID, []Event{{
			Type:    EventRoomClosed,
			Payload: RoomClosedPayload{ClassID: rm.classID},
		}})
	}
	r.log.Info("room closed", "class", rm.classID)
}

// RouterCapabilities reports the RTP capabilities of the class router.
func (r *Registry) RouterCapabilities(classID string) (webrtc.RTPCapabilities, error) {
	rm := r.room(classID)
	if rm == nil {
		return webrtc.RTPCapabilities{}, domain.NotFound("no active room for class %s", classID)
	}
	return rm.rtpCapabilities, nil
}

// ParticipantCount reports the live membership of a class, zero when no
// room exists.
func (r *Registry) ParticipantCount(classID string) int {
	rm := r.room(classID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.dir.count()
}

// RoomInfo snapshots the room state for introspection.
func (r *Registry) RoomInfo(classID string) (domain.Room, int, error) {
	rm := r.room(classID)
	if rm == nil {
		return domain.Room{}, 0, domain.NotFound("no active room for class %s", classID)
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.info(), rm.dir.count(), nil
}

// Participants lists the room's current members.
func (r *Registry) Participants(classID string) []domain.Participant {
	rm := r.room(classID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	members := rm.dir.list()
	out := make([]domain.Participant, 0, len(members))
	for _, p := range members {
		out = append(out, *p)
	}
	return out
}

// CreateTransport asks the engine for a WebRTC transport and records its
// ownership. A prior transport of the same direction is superseded.
func (r *Registry) CreateTransport(ctx context.Context, sess Session, direction domain.Direction) (engine.Transport, error) {
	if !direction.Valid() {
		return engine.Transport{}, domain.Validation("direction must be send or recv, got %q", direction)
	}
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return engine.Transport{}, err
	}
	defer rm.mu.Unlock()

	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	t, err := r.engine.CreateWebRtcTransport(cctx, rm.classID, direction)
	if err != nil {
		return engine.Transport{}, domain.EngineFailure(err)
	}

	replaced := rm.ledger.addTransport(&domain.Transport{
		ID:        t.ID,
		ClassID:   rm.classID,
		OwnerID:   p.UserID,
		Direction: direction,
	})
	if replaced != nil {
		r.log.Info("transport superseded",
			"class", rm.classID, "user", p.UserID, "old", replaced.ID, "new", t.ID)
	}
	return t, nil
}

// ConnectTransport completes the DTLS handshake for a transport the caller
// owns.
func (r *Registry) ConnectTransport(ctx context.Context, sess Session, transportID string, dtls webrtc.DTLSParameters) error {
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return err
	}
	defer rm.mu.Unlock()

	t, ok := rm.ledger.transport(transportID)
	if !ok || t.Closed {
		return domain.NotFound("unknown transport %s", transportID)
	}
	if t.OwnerID != p.UserID {
		return domain.Unauthorized("transport %s belongs to another participant", transportID)
	}

	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	if err := r.engine.ConnectWebRtcTransport(cctx, transportID, dtls); err != nil {
		return domain.EngineFailure(err)
	}
	return nil
}

// Produce publishes a track. A still-open producer of the same kind from
// the same participant is force-closed first rather than rejected, so a
// client retrying after a glitch can never wedge itself.
func (r *Registry) Produce(ctx context.Context, sess Session, transportID string, kind domain.MediaKind, rtp webrtc.RTPParameters) (string, error) {
	if !kind.Valid() {
		return "", domain.Validation("kind must be audio or video, got %q", kind)
	}
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return "", err
	}
	defer rm.mu.Unlock()

	t, ok := rm.ledger.transport(transportID)
	if !ok || t.Closed {
		return "", domain.NotFound("unknown transport %s", transportID)
	}
	if t.OwnerID != p.UserID {
		return "", domain.Unauthorized("transport %s belongs to another participant", transportID)
	}
	if t.Direction != domain.DirectionSend {
		return "", domain.Validation("cannot produce on a %s transport", t.Direction)
	}

	var events []Event
	if prior := rm.ledger.openProducerOfKind(p.UserID, kind); prior != nil {
		// Duplicate-kind conflict, resolved by closing the old producer.
		r.log.Info("duplicate producer force-closed",
			"class", rm.classID, "user", p.UserID, "kind", kind,
			"producer", prior.ID, "reason", domain.CodeConflict)
		if err := r.engineClose(ctx, prior.ID); err != nil {
			r.log.Warn("close prior producer failed", "producer", prior.ID, "err", err)
		}
		rm.ledger.closeProducer(prior)
		events = append(events, Event{
			Type:    EventProducerClosed,
			Payload: ProducerClosedPayload{ProducerID: prior.ID, PeerID: prior.OwnerConnID},
		})
	}

	cctx, cancel := r.engineCtx(ctx)
	producerID, err := r.engine.CreateProducer(cctx, engine.CreateProducerRequest{
		TransportID:   transportID,
		Kind:          kind,
		RTPParameters: rtp,
		UserID:        p.UserID,
		ClassID:       rm.classID,
	})
	cancel()
	if err != nil {
		r.emitLocked(rm, events)
		return "", domain.EngineFailure(err)
	}

	rm.ledger.addProducer(&domain.Producer{
		ID:          producerID,
		ClassID:     rm.classID,
		OwnerID:     p.UserID,
		OwnerConnID: p.ConnID,
		TransportID: transportID,
		Kind:        kind,
	})
	events = append(events, Event{
		Type: EventNewProducer,
		Payload: ProducerInfo{
			ProducerID: producerID,
			PeerID:     p.ConnID,
			UserID:     p.UserID,
			Kind:       kind,
		},
		ExcludeConn: sess.ConnID,
	})
	r.emitLocked(rm, events)
	return producerID, nil
}

// Consume subscribes the caller to producerID. The target must still be
// open in this room; a producer closed concurrently surfaces as not found,
// never as a consumer bound to a dead producer.
func (r *Registry) Consume(ctx context.Context, sess Session, transportID, producerID string, caps webrtc.RTPCapabilities) (engine.Consumer, error) {
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return engine.Consumer{}, err
	}
	defer rm.mu.Unlock()

	t, ok := rm.ledger.transport(transportID)
	if !ok || t.Closed {
		return engine.Consumer{}, domain.NotFound("unknown transport %s", transportID)
	}
	if t.OwnerID != p.UserID {
		return engine.Consumer{}, domain.Unauthorized("transport %s belongs to another participant", transportID)
	}
	if t.Direction != domain.DirectionRecv {
		return engine.Consumer{}, domain.Validation("cannot consume on a %s transport", t.Direction)
	}

	prod, ok := rm.ledger.producer(producerID)
	if !ok || prod.Closed {
		return engine.Consumer{}, domain.NotFound("producer %s is not open", producerID)
	}

	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	c, err := r.engine.CreateConsumer(cctx, engine.CreateConsumerRequest{
		TransportID:     transportID,
		ProducerID:      producerID,
		RTPCapabilities: caps,
		UserID:          p.UserID,
	})
	if err != nil {
		return engine.Consumer{}, domain.EngineFailure(err)
	}

	rm.ledger.addConsumer(&domain.Consumer{
		ID:          c.ID,
		ClassID:     rm.classID,
		OwnerID:     p.UserID,
		ProducerID:  producerID,
		TransportID: transportID,
		State:       domain.ConsumerPaused,
	})
	return c, nil
}

// ResumeConsumer unpauses a consumer the caller owns. Resuming twice is a
// no-op.
func (r *Registry) ResumeConsumer(ctx context.Context, sess Session, consumerID string) error {
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return err
	}
	defer rm.mu.Unlock()

	c, ok := rm.ledger.consumer(consumerID)
	if !ok || c.State == domain.ConsumerClosed {
		return domain.NotFound("unknown consumer %s", consumerID)
	}
	if c.OwnerID != p.UserID {
		return domain.Unauthorized("consumer %s belongs to another participant", consumerID)
	}
	if c.State == domain.ConsumerResumed {
		return nil
	}

	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	if err := r.engine.ResumeConsumer(cctx, consumerID); err != nil {
		return domain.EngineFailure(err)
	}
	c.State = domain.ConsumerResumed
	return nil
}

// CloseProducer closes a producer the caller owns and cascades to its
// dependent consumers.
func (r *Registry) CloseProducer(ctx context.Context, sess Session, producerID string) error {
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return err
	}
	defer rm.mu.Unlock()

	prod, ok := rm.ledger.producer(producerID)
	if !ok || prod.Closed {
		return domain.NotFound("producer %s is not open", producerID)
	}
	if prod.OwnerID != p.UserID {
		return domain.Unauthorized("producer %s belongs to another participant", producerID)
	}

	cctx, cancel := r.engineCtx(ctx)
	defer cancel()
	if err := r.engine.CloseProducer(cctx, producerID); err != nil {
		return domain.EngineFailure(err)
	}

	closed := rm.ledger.closeProducer(prod)
	r.log.Info("producer closed",
		"class", rm.classID, "user", p.UserID, "producer", producerID, "consumers", len(closed))
	r.emitLocked(rm, []Event{{
		Type:        EventProducerClosed,
		Payload:     ProducerClosedPayload{ProducerID: producerID, PeerID: prod.OwnerConnID},
		ExcludeConn: sess.ConnID,
	}})
	return nil
}

// ExistingProducers lists the open producers of the caller's room, minus
// the caller's own.
func (r *Registry) ExistingProducers(sess Session) ([]ProducerInfo, error) {
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return nil, err
	}
	defer rm.mu.Unlock()
	return rm.existingProducers(p.UserID), nil
}

// RelayMediaState fans a media-state-changed notification out to the rest
// of the room, stamped with the sender's identity.
func (r *Registry) RelayMediaState(sess Session, state map[string]any) error {
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return err
	}
	defer rm.mu.Unlock()

	payload := make(map[string]any, len(state)+1)
	for k, v := range state {
		payload[k] = v
	}
	payload["userId"] = p.UserID
	r.emitLocked(rm, []Event{{
		Type:        EventMediaStateChanged,
		Payload:     payload,
		ExcludeConn: sess.ConnID,
	}})
	return nil
}

// GrantPermission broadcasts a teacher's permission grant to the room.
func (r *Registry) GrantPermission(sess Session, studentID, permission string) error {
	return r.relayPermission(sess, studentID, permission, true)
}

// RevokePermission broadcasts a teacher's permission revocation.
func (r *Registry) RevokePermission(sess Session, studentID, permission string) error {
	return r.relayPermission(sess, studentID, permission, false)
}

func (r *Registry) relayPermission(sess Session, studentID, permission string, grant bool) error {
	if studentID == "" || permission == "" {
		return domain.Validation("studentId and permission are required")
	}
	rm, p, err := r.lockedRoom(sess)
	if err != nil {
		return err
	}
	defer rm.mu.Unlock()

	if p.Role != domain.RoleTeacher {
		return domain.Unauthorized("only the teacher may change permissions")
	}
	if _, ok := rm.dir.user(studentID); !ok {
		return domain.NotFound("student %s is not in the room", studentID)
	}

	ev := Event{Type: EventPermissionGranted, Payload: PermissionGrantedPayload{
		StudentID: studentID, Permission: permission, GrantedBy: p.UserID,
	}}
	if !grant {
		ev = Event{Type: EventPermissionRevoked, Payload: PermissionRevokedPayload{
			StudentID: studentID, Permission: permission, RevokedBy: p.UserID,
		}}
	}
	r.emitLocked(rm, []Event{ev})
	return nil
}
