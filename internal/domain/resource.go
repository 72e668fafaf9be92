package domain

// Direction of a WebRTC transport relative to the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

type ConsumerState string

const (
	ConsumerPaused  ConsumerState = "paused"
	ConsumerResumed ConsumerState = "resumed"
	ConsumerClosed  ConsumerState = "closed"
)

// Transport mirrors one ICE/DTLS endpoint held by the media engine.
type Transport struct {
	ID        string
	ClassID   string
	OwnerID   string // participant userID
	Direction Direction
	Closed    bool
}

// Producer mirrors one published media track. At most one open producer
// per (owner, kind) per room.
type Producer struct {
	ID          string
	ClassID     string
	OwnerID     string
	OwnerConnID string
	TransportID string
	Kind        MediaKind
	Closed      bool
}

// Consumer mirrors one subscription to a producer. A live consumer always
// references a currently open producer.
type Consumer struct {
	ID          string
	ClassID     string
	OwnerID     string
	ProducerID  string
	TransportID string
	State       ConsumerState
}
