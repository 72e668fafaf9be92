package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-service/internal/domain"
)

// Session is the immutable context of one joined connection. The gateway
// builds it once, when the join handshake completes, and passes it to every
// subsequent handler; no state lives on the connection itself.
type Session struct {
	ClassID string
	UserID  string
	Name    string
	Role    domain.Role
	ConnID  string
}

// JoinResult is what a completed join hands back to the client: the router
// capabilities needed to set up its device, plus the producers already
// live in the room.
type JoinResult struct {
	RTPCapabilities   webrtc.RTPCapabilities `json:"rtpCapabilities"`
	ExistingProducers []ProducerInfo         `json:"existingProducers"`
}
