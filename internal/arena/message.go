package arena

// Frame types exchanged over the arena websocket.
const (
	TypeJoin                 = "join"
	TypeSubmission           = "submission"
	TypeWaiting              = "waiting"
	TypeStart                = "start"
	TypeVerdict              = "verdict"
	TypeWinner               = "winner"
	TypePing                 = "ping"
	TypeError                = "error"
	TypeOpponentDisconnected = "opponent_disconnected"
)

// InboundMessage is a frame sent by a player.
type InboundMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
	RoomID string `json:"roomId,omitempty"`
}

// OutboundMessage is a frame sent to a player. Unused fields are omitted.
type OutboundMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId,omitempty"`
	ProblemID  int64  `json:"problemId,omitempty"`
	Opponent   string `json:"opponent,omitempty"`
	From       string `json:"from,omitempty"`
	Verdict    string `json:"verdict,omitempty"`
	FailedCase string `json:"failedCase,omitempty"`
	Winner     string `json:"winner,omitempty"`
	Code       int    `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Peer is one connected player.
type Peer interface {
	UserID() string
	// Send queues a frame; it never blocks on the network.
	Send(msg OutboundMessage)
	Close()
}
