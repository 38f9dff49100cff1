package arena_test

import (
	"context"
	"errors"
	"testing"

	"codearena/internal/arena"
	"codearena/internal/common/mq"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/model"
)

type staticPicker struct {
	id  int64
	err error
}

func (p staticPicker) RandomID(context.Context) (int64, error) { return p.id, p.err }

func newMatchmaker(t *testing.T, picker arena.ProblemPicker) *arena.Matchmaker {
	t.Helper()
	m, err := arena.NewMatchmaker(arena.Config{Picker: picker, Metrics: arena.NewMetrics(nil)})
	if err != nil {
		t.Fatalf("new matchmaker failed: %v", err)
	}
	return m
}

func pair(t *testing.T, m *arena.Matchmaker) (*fakePeer, *fakePeer, string) {
	t.Helper()
	ctx := context.Background()
	a, b := newPeer("7"), newPeer("8")
	if err := m.Join(ctx, a); err != nil {
		t.Fatalf("join a failed: %v", err)
	}
	if a.last().Type != arena.TypeWaiting {
		t.Fatalf("expected waiting frame, got %+v", a.last())
	}
	if err := m.Join(ctx, b); err != nil {
		t.Fatalf("join b failed: %v", err)
	}
	start := a.last()
	if start.Type != arena.TypeStart || start.Opponent != "8" || start.ProblemID != 42 {
		t.Fatalf("unexpected start frame %+v", start)
	}
	if b.last().RoomID != start.RoomID || b.last().Opponent != "7" {
		t.Fatalf("unexpected start frame for b %+v", b.last())
	}
	return a, b, start.RoomID
}

func TestJoinSkipsWaitingWhenOpponentQueued(t *testing.T) {
	m := newMatchmaker(t, staticPicker{id: 42})
	_, b, _ := pair(t, m)

	if got := b.types(); len(got) != 1 || got[0] != arena.TypeStart {
		t.Fatalf("expected only a start frame for the second player, got %v", got)
	}
}

func TestJoinPairsPlayers(t *testing.T) {
	m := newMatchmaker(t, staticPicker{id: 42})
	a, _, roomID := pair(t, m)

	if m.Queue().Len() != 0 || m.Rooms().Len() != 1 {
		t.Fatalf("expected empty queue and one room")
	}
	if err := m.Join(context.Background(), a); !errors.Is(err, arena.ErrAlreadyQueued) {
		t.Fatalf("player in a room must not queue again, got %v", err)
	}
	if _, ok := m.Rooms().Get(roomID); !ok {
		t.Fatalf("room %s not registered", roomID)
	}
}

func TestJoinPickerFailure(t *testing.T) {
	m := newMatchmaker(t, staticPicker{err: errors.New("no rows")})
	a, b := newPeer("1"), newPeer("2")
	_ = m.Join(context.Background(), a)
	_ = m.Join(context.Background(), b)
	if a.last().Type != arena.TypeError || b.last().Type != arena.TypeError {
		t.Fatalf("expected error frames, got %v %v", a.types(), b.types())
	}
	if m.Rooms().Len() != 0 {
		t.Fatalf("expected no room")
	}
}

func TestSubmittedRelaysToOpponent(t *testing.T) {
	m := newMatchmaker(t, staticPicker{id: 42})
	a, b, roomID := pair(t, m)

	if err := m.Submitted(a, roomID); err != nil {
		t.Fatalf("submitted failed: %v", err)
	}
	if got := b.last(); got.Type != arena.TypeSubmission || got.From != "7" {
		t.Fatalf("unexpected relay %+v", got)
	}
	if err := m.Submitted(a, "other"); !errors.Is(err, arena.ErrNotRoomMember) {
		t.Fatalf("expected not member, got %v", err)
	}
	if err := m.Submitted(newPeer("99"), roomID); !errors.Is(err, arena.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestVerdictRelayAndWinner(t *testing.T) {
	m := newMatchmaker(t, staticPicker{id: 42})
	a, b, _ := pair(t, m)
	ctx := context.Background()

	// Other problems are ignored.
	m.HandleVerdict(ctx, model.VerdictEvent{SubmissionID: "s0", UserID: 7, ProblemID: 1, Verdict: verdict.Accepted})
	if b.last().Type != arena.TypeStart {
		t.Fatalf("verdict for another problem must not be relayed")
	}

	m.HandleVerdict(ctx, model.VerdictEvent{SubmissionID: "s1", UserID: 7, ProblemID: 42, Verdict: verdict.WrongAnswer, FailedCase: "3"})
	if got := b.last(); got.Type != arena.TypeVerdict || got.Verdict != "WA" || got.From != "7" || got.FailedCase != "3" {
		t.Fatalf("unexpected verdict frame %+v", got)
	}

	m.HandleVerdict(ctx, model.VerdictEvent{SubmissionID: "s2", UserID: 8, ProblemID: 42, Verdict: verdict.Accepted})
	if got := a.last(); got.Type != arena.TypeWinner || got.Winner != "8" {
		t.Fatalf("unexpected winner frame %+v", got)
	}
	if got := b.last(); got.Type != arena.TypeWinner {
		t.Fatalf("winner must be broadcast, got %+v", got)
	}
	if !a.closed || !b.closed {
		t.Fatalf("players must be disconnected after the match")
	}
	if m.Rooms().Len() != 0 {
		t.Fatalf("expected room to be closed")
	}
}

func TestLeaveNotifiesOpponent(t *testing.T) {
	m := newMatchmaker(t, staticPicker{id: 42})
	a, b, _ := pair(t, m)

	// A stale connection of the same user does not end the match.
	m.Leave(context.Background(), newPeer("7"))
	if m.Rooms().Len() != 1 {
		t.Fatalf("stale connection closed the room")
	}

	m.Leave(context.Background(), a)
	if got := b.last(); got.Type != arena.TypeOpponentDisconnected {
		t.Fatalf("expected disconnect notice, got %+v", got)
	}
	if m.Rooms().Len() != 0 {
		t.Fatalf("expected room to be closed")
	}

	c := newPeer("9")
	_ = m.Join(context.Background(), c)
	m.Leave(context.Background(), c)
	if m.Queue().Len() != 0 {
		t.Fatalf("expected queued player to be removed")
	}
}

func TestHandleVerdictMessage(t *testing.T) {
	m := newMatchmaker(t, staticPicker{id: 42})
	_, b, _ := pair(t, m)

	body := []byte(`{"submission_id":"s1","user_id":7,"problem_id":42,"language":"cpp","verdict":"TLE","judged_at":1}`)
	if err := m.HandleVerdictMessage(context.Background(), mq.NewMessage("s1", body)); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}
	if got := b.last(); got.Verdict != "TLE" {
		t.Fatalf("expected TLE relay, got %+v", got)
	}
	if err := m.HandleVerdictMessage(context.Background(), mq.NewMessage("x", []byte("nope"))); err == nil {
		t.Fatalf("expected decode error")
	}
}
