package session

import "github.com/cwrk-planet/session-service/internal/domain"

// Event types broadcast to the other members of a room. Names are part of
// the signaling protocol.
const (
	EventUserJoined        = "userJoined"
	EventUserLeft          = "userLeft"
	EventNewProducer       = "newProducer"
	EventProducerClosed    = "producerClosed"
	EventRoomClosed        = "roomClosed"
	EventMediaStateChanged = "media-state-changed"
	EventPermissionGranted = "studentPermissionGranted"
	EventPermissionRevoked = "studentPermissionRevoked"
)

// Event is a room-wide notification produced by a state transition. The
// registry never performs I/O for broadcasts itself; it hands events to an
// EventSink while the room is still locked, so sink order equals state
// transition order.
type Event struct {
	Type    string
	Payload any
	// ExcludeConn suppresses delivery to the originating connection,
	// which gets its answer in the request/response exchange instead.
	ExcludeConn string
}

// EventSink delivers events to every connection of a room except the
// excluded one. Implementations must not block the caller on socket I/O.
type EventSink interface {
	Dispatch(classID string, events []Event)
}

type UserJoinedPayload struct {
	UserID   string      `json:"userId"`
	UserName string      `json:"userName"`
	UserRole domain.Role `json:"userRole"`
	SocketID string      `json:"socketId"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// ProducerInfo doubles as the newProducer event payload and the element
// type of existing-producer listings.
type ProducerInfo struct {
	ProducerID string           `json:"producerId"`
	PeerID     string           `json:"peerId"`
	UserID     string           `json:"userId"`
	Kind       domain.MediaKind `json:"kind"`
}

type ProducerClosedPayload struct {
	ProducerID string `json:"producerId"`
	PeerID     string `json:"peerId"`
}

type RoomClosedPayload struct {
	ClassID string `json:"classId"`
}

type PermissionGrantedPayload struct {
	StudentID  string `json:"studentId"`
	Permission string `json:"permission"`
	GrantedBy  string `json:"grantedBy"`
}

type PermissionRevokedPayload struct {
	StudentID  string `json:"studentId"`
	Permission string `json:"permission"`
	RevokedBy  string `json:"revokedBy"`
}
