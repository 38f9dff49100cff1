package arena

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"codearena/internal/common/mq"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProblemPicker chooses the problem of a new room.
type ProblemPicker interface {
	RandomID(ctx context.Context) (int64, error)
}

// Matchmaker pairs queued players into rooms and relays match events.
type Matchmaker struct {
	// joinMu keeps at most one player waiting between joins, so a join either
	// pairs the newcomer or leaves it alone in the queue.
	joinMu  sync.Mutex
	queue   *Queue
	rooms   *Rooms
	picker  ProblemPicker
	metrics *Metrics
}

// Config holds matchmaker dependencies.
type Config struct {
	Picker        ProblemPicker
	QueueCapacity int
	Metrics       *Metrics
}

func NewMatchmaker(cfg Config) (*Matchmaker, error) {
	if cfg.Picker == nil {
		return nil, fmt.Errorf("problem picker is required")
	}
	return &Matchmaker{
		queue:   NewQueue(cfg.QueueCapacity),
		rooms:   NewRooms(),
		picker:  cfg.Picker,
		metrics: cfg.Metrics,
	}, nil
}

func (m *Matchmaker) Queue() *Queue { return m.queue }
func (m *Matchmaker) Rooms() *Rooms { return m.rooms }

// Join queues p. When another player is already waiting the two get a room;
// otherwise p is told it is waiting for an opponent.
func (m *Matchmaker) Join(ctx context.Context, p Peer) error {
	if _, ok := m.rooms.ByUser(p.UserID()); ok {
		return ErrAlreadyQueued
	}
	m.joinMu.Lock()
	if err := m.queue.Push(p); err != nil {
		m.joinMu.Unlock()
		return err
	}
	a, b, paired := m.queue.PopPair()
	if !paired {
		p.Send(OutboundMessage{Type: TypeWaiting})
	}
	m.joinMu.Unlock()

	if paired {
		m.openRoom(ctx, a, b)
	}
	m.metrics.sync(m.queue.Len(), m.rooms.Len())
	return nil
}

func (m *Matchmaker) openRoom(ctx context.Context, a, b Peer) {
	problemID, err := m.picker.RandomID(ctx)
	if err != nil {
		logger.Error(ctx, "pick arena problem failed",
			zap.String("player_a", a.UserID()),
			zap.String("player_b", b.UserID()),
			zap.Error(err),
		)
		msg := errorFrame(appErr.Wrapf(err, appErr.ProblemNotFound, "no problem available for the match"))
		a.Send(msg)
		b.Send(msg)
		return
	}

	room := newRoom(uuid.NewString(), problemID, a, b)
	m.rooms.Add(room)
	m.metrics.matched()

	logger.Info(context.WithValue(ctx, contextkey.RoomID, room.ID), "arena room opened",
		zap.String("player_a", a.UserID()),
		zap.String("player_b", b.UserID()),
		zap.Int64("problem_id", problemID),
	)
	a.Send(OutboundMessage{Type: TypeStart, RoomID: room.ID, ProblemID: problemID, Opponent: b.UserID()})
	b.Send(OutboundMessage{Type: TypeStart, RoomID: room.ID, ProblemID: problemID, Opponent: a.UserID()})
}

// Leave removes a disconnected player. The opponent is told and the room closes.
func (m *Matchmaker) Leave(ctx context.Context, p Peer) {
	m.queue.RemovePeer(p)
	if room, ok := m.rooms.ByUser(p.UserID()); ok {
		if member, _ := room.Player(p.UserID()); member == p && room.finish() {
			if opponent, ok := room.Opponent(p.UserID()); ok {
				opponent.Send(OutboundMessage{Type: TypeOpponentDisconnected, RoomID: room.ID})
			}
			m.rooms.Remove(room)
			logger.Info(context.WithValue(ctx, contextkey.RoomID, room.ID), "arena room closed by disconnect",
				zap.String("user_id", p.UserID()),
			)
		}
	}
	m.metrics.sync(m.queue.Len(), m.rooms.Len())
}

// Submitted tells the opponent that p sent a submission in roomID.
func (m *Matchmaker) Submitted(p Peer, roomID string) error {
	room, ok := m.rooms.ByUser(p.UserID())
	if !ok {
		return ErrRoomNotFound
	}
	if room.ID != roomID {
		return ErrNotRoomMember
	}
	opponent, _ := room.Opponent(p.UserID())
	opponent.Send(OutboundMessage{Type: TypeSubmission, RoomID: room.ID, From: p.UserID()})
	return nil
}

// HandleVerdict relays a judged submission of a room member to the opponent.
// An accepted solution ends the room.
func (m *Matchmaker) HandleVerdict(ctx context.Context, event model.VerdictEvent) {
	userID := strconv.FormatInt(event.UserID, 10)
	room, ok := m.rooms.ByUser(userID)
	if !ok || room.ProblemID != event.ProblemID {
		return
	}
	opponent, ok := room.Opponent(userID)
	if !ok {
		return
	}
	opponent.Send(OutboundMessage{
		Type:       TypeVerdict,
		RoomID:     room.ID,
		From:       userID,
		Verdict:    event.Verdict.String(),
		FailedCase: event.FailedCase,
	})
	if event.Verdict != verdict.Accepted || !room.finish() {
		return
	}

	room.Broadcast(OutboundMessage{Type: TypeWinner, RoomID: room.ID, Winner: userID})
	m.rooms.Remove(room)
	for _, p := range room.Players() {
		p.Close()
	}
	m.metrics.sync(m.queue.Len(), m.rooms.Len())
	logger.Info(context.WithValue(ctx, contextkey.RoomID, room.ID), "arena room won",
		zap.String("winner", userID),
		zap.String("submission_id", event.SubmissionID),
	)
}

// HandleVerdictMessage consumes verdict events from the message queue.
func (m *Matchmaker) HandleVerdictMessage(ctx context.Context, msg *mq.Message) error {
	event, err := repository.DecodeVerdictEvent(msg)
	if err != nil {
		return err
	}
	m.HandleVerdict(ctx, event)
	return nil
}

func errorFrame(err error) OutboundMessage {
	code := appErr.GetCode(err)
	switch {
	case errors.Is(err, ErrQueueFull):
		code = appErr.ArenaQueueFull
	case errors.Is(err, ErrAlreadyQueued):
		code = appErr.AlreadyInQueue
	case errors.Is(err, ErrRoomNotFound):
		code = appErr.RoomNotFound
	case errors.Is(err, ErrNotRoomMember):
		code = appErr.NotRoomMember
	}
	msg := err.Error()
	if e := appErr.GetError(err); e != nil && e.Message != "" && e.Code == code {
		msg = e.Message
	}
	return OutboundMessage{Type: TypeError, Code: int(code), Message: msg}
}
