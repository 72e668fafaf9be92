package engine

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-service/internal/domain"
)

// Engine is the boundary to the SFU media engine. The engine owns RTP
// forwarding, codec negotiation and bandwidth estimation; this service
// only coordinates who may create what on top of it.
type Engine interface {
	// GetOrCreateRouter returns the router serving classID, creating it on
	// first use.
	GetOrCreateRouter(ctx context.Context, classID string) (Router, error)

	AddParticipant(ctx context.Context, classID, userID string, meta ParticipantMeta) error
	RemoveParticipant(ctx context.Context, classID, userID string) error

	CreateWebRtcTransport(ctx context.Context, classID string, direction domain.Direction) (Transport, error)
	ConnectWebRtcTransport(ctx context.Context, transportID string, dtls webrtc.DTLSParameters) error

	CreateProducer(ctx context.Context, req CreateProducerRequest) (producerID string, err error)
	CreateConsumer(ctx context.Context, req CreateConsumerRequest) (Consumer, error)

	ResumeConsumer(ctx context.Context, consumerID string) error
	CloseProducer(ctx context.Context, producerID string) error

	// GetExistingProducers lists producers the engine currently forwards
	// for classID. Used to cross-check the in-memory ledger.
	GetExistingProducers(ctx context.Context, classID string) ([]RemoteProducer, error)
}

type Router struct {
	ClassID         string                 `json:"classId"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type ParticipantMeta struct {
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

// Transport carries the connection parameters the client needs to
// establish the ICE/DTLS leg with the engine.
type Transport struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type CreateProducerRequest struct {
	TransportID   string               `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtpParameters"`
	UserID        string               `json:"userId"`
	ClassID       string               `json:"classId"`
}

type CreateConsumerRequest struct {
	TransportID     string                 `json:"transportId"`
	ProducerID      string                 `json:"producerId"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
	UserID          string                 `json:"userId"`
}

type Consumer struct {
	ID            string               `json:"id"`
	ProducerID    string               `json:"producerId"`
	Kind          domain.MediaKind     `json:"kind"`
	RTPParameters webrtc.RTPParameters `json:"rtpParameters"`
}

type RemoteProducer struct {
	ProducerID string           `json:"producerId"`
	UserID     string           `json:"userId"`
	Kind       domain.MediaKind `json:"kind"`
}
