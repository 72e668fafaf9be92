// Package enginetest provides an in-memory Engine for tests: it hands out
// sequential ids, tracks what the coordinator asked it to create, and can
// be told to fail individual calls.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-service/internal/domain"
	"github.com/cwrk-planet/session-service/internal/engine"
)

type Fake struct {
	mu sync.Mutex

	routerCalls map[string]int
	nextID      int

	participants map[string]map[string]engine.ParticipantMeta // classID -> userID
	transports   map[string]string                            // transportID -> classID
	producers    map[string]engine.RemoteProducer             // open producers
	producedIn   map[string]string                            // producerID -> classID
	consumers    map[string]engine.Consumer

	// Failure injection: calls matching these return the error once set.
	FailCreateProducer error
	FailCloseProducer  func(producerID string) error
	FailCreateRouter   error
}

func New() *Fake {
	return &Fake{
		routerCalls:  make(map[string]int),
		participants: make(map[string]map[string]engine.ParticipantMeta),
		transports:   make(map[string]string),
		producers:    make(map[string]engine.RemoteProducer),
		producedIn:   make(map[string]string),
		consumers:    make(map[string]engine.Consumer),
	}
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) GetOrCreateRouter(_ context.Context, classID string) (engine.Router, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateRouter != nil {
		return engine.Router{}, f.FailCreateRouter
	}
	f.routerCalls[classID]++
	return engine.Router{
		ClassID: classID,
		RTPCapabilities: webrtc.RTPCapabilities{
			Codecs: []webrtc.RTPCodecCapability{
				{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
				{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			},
		},
	}, nil
}

// RouterCalls reports how many times a router was requested for classID.
func (f *Fake) RouterCalls(classID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.routerCalls[classID]
}

func (f *Fake) AddParticipant(_ context.Context, classID, userID string, meta engine.ParticipantMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.participants[classID]
	if !ok {
		m = make(map[string]engine.ParticipantMeta)
		f.participants[classID] = m
	}
	m[userID] = meta
	return nil
}

func (f *Fake) RemoveParticipant(_ context.Context, classID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants[classID], userID)
	return nil
}

func (f *Fake) HasParticipant(classID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.participants[classID][userID]
	return ok
}

func (f *Fake) CreateWebRtcTransport(_ context.Context, classID string, _ domain.Direction) (engine.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("transport")
	f.transports[id] = classID
	return engine.Transport{
		ID:            id,
		ICEParameters: webrtc.ICEParameters{UsernameFragment: "ufrag-" + id, Password: "pwd-" + id},
		DTLSParameters: webrtc.DTLSParameters{
			Role:         webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11:22"}},
		},
	}, nil
}

func (f *Fake) ConnectWebRtcTransport(_ context.Context, transportID string, _ webrtc.DTLSParameters) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.transports[transportID]; !ok {
		return fmt.Errorf("unknown transport %s", transportID)
	}
	return nil
}

func (f *Fake) CreateProducer(_ context.Context, req engine.CreateProducerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateProducer != nil {
		return "", f.FailCreateProducer
	}
	id := f.id("producer")
	f.producers[id] = engine.RemoteProducer{ProducerID: id, UserID: req.UserID, Kind: req.Kind}
	f.producedIn[id] = req.ClassID
	return id, nil
}

func (f *Fake) CreateConsumer(_ context.Context, req engine.CreateConsumerRequest) (engine.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.producers[req.ProducerID]
	if !ok {
		return engine.Consumer{}, fmt.Errorf("unknown producer %s", req.ProducerID)
	}
	c := engine.Consumer{ID: f.id("consumer"), ProducerID: p.ProducerID, Kind: p.Kind}
	f.consumers[c.ID] = c
	return c, nil
}

func (f *Fake) ResumeConsumer(_ context.Context, consumerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.consumers[consumerID]; !ok {
		return fmt.Errorf("unknown consumer %s", consumerID)
	}
	return nil
}

func (f *Fake) CloseProducer(_ context.Context, producerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCloseProducer != nil {
		if err := f.FailCloseProducer(producerID); err != nil {
			return err
		}
	}
	delete(f.producers, producerID)
	delete(f.producedIn, producerID)
	return nil
}

func (f *Fake) GetExistingProducers(_ context.Context, classID string) ([]engine.RemoteProducer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.RemoteProducer
	for id, p := range f.producers {
		if f.producedIn[id] == classID {
			out = append(out, p)
		}
	}
	return out, nil
}

// OpenProducers reports ids of producers the engine still forwards for
// classID.
func (f *Fake) OpenProducers(classID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.producers {
		if f.producedIn[id] == classID {
			out = append(out, id)
		}
	}
	return out
}
