package session

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/session-service/internal/domain"
)

// room bundles the per-class state: the router mirror, the participant
// directory and the media resource ledger. All mutation happens under mu,
// which serializes every operation targeting the same class. Operations on
// different rooms never contend.
type room struct {
	classID         string
	rtpCapabilities webrtc.RTPCapabilities
	createdAt       time.Time

	mu     sync.Mutex
	dir    directory
	ledger ledger

	// graceTimer delays teardown after the last participant leaves, so a
	// quick reconnect finds the room intact.
	graceTimer *time.Timer
	closed     bool
}

func newRoom(classID string, caps webrtc.RTPCapabilities) *room {
	return &room{
		classID:         classID,
		rtpCapabilities: caps,
		createdAt:       time.Now(),
		dir:             newDirectory(),
		ledger:          newLedger(),
	}
}

func (rm *room) info() domain.Room {
	return domain.Room{
		ClassID:         rm.classID,
		RTPCapabilities: rm.rtpCapabilities,
		CreatedAt:       rm.createdAt,
	}
}

// existingProducers lists the open producers of everyone but excludeUser,
// in the shape clients consume for late-joiner sync. Linear scan; a room
// holds at most a classroom's worth of producers.
func (rm *room) existingProducers(excludeUser string) []ProducerInfo {
	open := rm.ledger.openProducers(excludeUser)
	out := make([]ProducerInfo, 0, len(open))
	for _, p := range open {
		out = append(out, ProducerInfo{
			ProducerID: p.ID,
			PeerID:     p.OwnerConnID,
			UserID:     p.OwnerID,
			Kind:       p.Kind,
		})
	}
	return out
}

func (rm *room) stopGraceLocked() {
	if rm.graceTimer != nil {
		rm.graceTimer.Stop()
		rm.graceTimer = nil
	}
}
