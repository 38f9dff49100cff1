package arena

import (
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotRoomMember = errors.New("player is not in this room")
)

// Room is a match between two players on one problem.
type Room struct {
	ID        string
	ProblemID int64
	CreatedAt time.Time

	players  [2]Peer
	mu       sync.Mutex
	finished bool
}

func newRoom(id string, problemID int64, a, b Peer) *Room {
	return &Room{ID: id, ProblemID: problemID, CreatedAt: time.Now(), players: [2]Peer{a, b}}
}

// Player returns the connection of userID in this room.
func (r *Room) Player(userID string) (Peer, bool) {
	for _, p := range r.players {
		if p.UserID() == userID {
			return p, true
		}
	}
	return nil, false
}

// Opponent returns the other player of userID.
func (r *Room) Opponent(userID string) (Peer, bool) {
	switch userID {
	case r.players[0].UserID():
		return r.players[1], true
	case r.players[1].UserID():
		return r.players[0], true
	}
	return nil, false
}

func (r *Room) Players() [2]Peer {
	return r.players
}

func (r *Room) Broadcast(msg OutboundMessage) {
	for _, p := range r.players {
		p.Send(msg)
	}
}

// finish marks the room over; only the first call returns true.
func (r *Room) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false
	}
	r.finished = true
	return true
}

// Rooms indexes live rooms by id and by player.
type Rooms struct {
	byID   *xsync.MapOf[string, *Room]
	byUser *xsync.MapOf[string, *Room]
}

func NewRooms() *Rooms {
	return &Rooms{
		byID:   xsync.NewMapOf[string, *Room](),
		byUser: xsync.NewMapOf[string, *Room](),
	}
}

func (rs *Rooms) Add(r *Room) {
	rs.byID.Store(r.ID, r)
	for _, p := range r.players {
		rs.byUser.Store(p.UserID(), r)
	}
}

func (rs *Rooms) Get(roomID string) (*Room, bool) {
	return rs.byID.Load(roomID)
}

func (rs *Rooms) ByUser(userID string) (*Room, bool) {
	return rs.byUser.Load(userID)
}

// Remove drops the room and the player index entries that still point to it.
func (rs *Rooms) Remove(r *Room) {
	rs.byID.Delete(r.ID)
	for _, p := range r.players {
		rs.byUser.Compute(p.UserID(), func(current *Room, loaded bool) (*Room, bool) {
			return current, !loaded || current == r
		})
	}
}

func (rs *Rooms) Len() int {
	return rs.byID.Size()
}
