package domain

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// Room is the live state of one class session. A class has at most one
// room at any moment; the session registry owns its lifecycle.
type Room struct {
	ClassID         string
	RTPCapabilities webrtc.RTPCapabilities
	CreatedAt       time.Time
}
