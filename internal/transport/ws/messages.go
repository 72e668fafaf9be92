package ws

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-service/internal/domain"
	"github.com/cwrk-planet/session-service/internal/engine"
	"github.com/cwrk-planet/session-service/internal/session"
)

// Request types a client may send over the signaling channel.
const (
	TypeJoinClass             = "joinClass"
	TypeRouterRtpCapabilities = "getRouterRtpCapabilities"
	TypeCreateTransport       = "createTransport"
	TypeConnectTransport      = "connectTransport"
	TypeProduce               = "produce"
	TypeConsume               = "consume"
	TypeResumeConsumer        = "resumeConsumer"
	TypeCloseProducer         = "closeProducer"
	TypeExistingProducers     = "requestExistingProducers"

	// Broadcast-only inbound events: relayed to the room, no response.
	TypeMediaStateChanged = "media-state-changed"
	TypeGrantPermission   = "grantPermission"
	TypeRevokePermission  = "revokePermission"

	TypeResponse = "response"
)

// Request is the inbound envelope. ID correlates the response; broadcast-
// only events may omit it.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is the outbound envelope for room-wide events.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Response answers exactly one Request: a result payload on success, a
// structured failure otherwise.
type Response struct {
	Type    string     `json:"type"`
	ID      string     `json:"id,omitempty"`
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- request payloads ---

type JoinClassPayload struct {
	ClassID  string      `json:"classId"`
	UserID   string      `json:"userId"`
	UserRole domain.Role `json:"userRole"`
	Name     string      `json:"name"`
}

// ClassPayload serves getRouterRtpCapabilities and
// requestExistingProducers.
type ClassPayload struct {
	ClassID string `json:"classId"`
}

type CreateTransportPayload struct {
	ClassID   string           `json:"classId"`
	Direction domain.Direction `json:"direction"`
}

type ConnectTransportPayload struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type ProducePayload struct {
	TransportID   string               `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtpParameters"`
	ClassID       string               `json:"classId"`
}

type ConsumePayload struct {
	TransportID     string                 `json:"transportId"`
	ProducerID      string                 `json:"producerId"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type ResumeConsumerPayload struct {
	ConsumerID string `json:"consumerId"`
}

type CloseProducerPayload struct {
	ProducerID string `json:"producerId"`
}

type PermissionPayload struct {
	StudentID  string `json:"studentId"`
	Permission string `json:"permission"`
}

// --- response payloads ---

type RtpCapabilitiesData struct {
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type CreateTransportData struct {
	Transport engine.Transport `json:"transport"`
}

type ProduceData struct {
	ProducerID string `json:"producerId"`
}

type ConsumeData struct {
	Consumer engine.Consumer `json:"consumer"`
}

type ExistingProducersData struct {
	ExistingProducers []session.ProducerInfo `json:"existingProducers"`
}
