package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"codearena/internal/common/db"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
)

type fakeSubmissionRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.Submission
	order   []string
	created int
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{rows: make(map[string]*model.Submission)}
}

func (r *fakeSubmissionRepo) Create(_ context.Context, _ db.Transaction, s *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.SubmissionID] = &cp
	r.order = append(r.order, s.SubmissionID)
	r.created++
	return nil
}

func (r *fakeSubmissionRepo) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *fakeSubmissionRepo) filter(keep func(*model.Submission) bool) []*model.Submission {
	var out []*model.Submission
	for _, id := range r.order {
		if row := r.rows[id]; keep(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

func (r *fakeSubmissionRepo) List(_ context.Context, offset, limit int) ([]*model.Submission, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.filter(func(*model.Submission) bool { return true })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeSubmissionRepo) ListByUser(_ context.Context, userID int64) ([]*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(s *model.Submission) bool { return s.UserID == userID }), nil
}

func (r *fakeSubmissionRepo) ListByUserProblem(_ context.Context, userID, problemID int64) ([]*model.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(s *model.Submission) bool { return s.UserID == userID && s.ProblemID == problemID }), nil
}

func (r *fakeSubmissionRepo) MarkRunning(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok && row.Status == model.StatusPending {
		row.Status = model.StatusRunning
	}
	return nil
}

func (r *fakeSubmissionRepo) finish(id string, apply func(*model.Submission)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status.Terminal() {
		return repository.ErrVerdictAlreadyRecorded
	}
	apply(row)
	return nil
}

func (r *fakeSubmissionRepo) RecordVerdict(_ context.Context, id string, v verdict.Verdict, failedCase string, judgedAt time.Time) error {
	return r.finish(id, func(row *model.Submission) {
		row.Status = model.StatusFinished
		row.Verdict = &v
		row.FailedCase = failedCase
		row.JudgedAt = &judgedAt
	})
}

func (r *fakeSubmissionRepo) RecordSystemError(_ context.Context, id, message string, judgedAt time.Time) error {
	return r.finish(id, func(row *model.Submission) {
		row.Status = model.StatusSystemError
		row.ErrorMessage = message
		row.JudgedAt = &judgedAt
	})
}

func (r *fakeSubmissionRepo) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type fakeProblemRepo struct {
	problems map[int64]*model.Problem
}

func (r *fakeProblemRepo) GetByID(_ context.Context, id int64) (*model.Problem, error) {
	if p, ok := r.problems[id]; ok {
		return p, nil
	}
	return nil, repository.ErrProblemNotFound
}

func (r *fakeProblemRepo) RandomID(context.Context) (int64, error) {
	ids := make([]int64, 0, len(r.problems))
	for id := range r.problems {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, repository.ErrProblemNotFound
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], nil
}

type fakeStatusStore struct {
	mu       sync.Mutex
	statuses map[string]model.LiveStatus
	history  []model.Status
}

func newFakeStatusStore() *fakeStatusStore {
	return &fakeStatusStore{statuses: make(map[string]model.LiveStatus)}
}

func (s *fakeStatusStore) Get(_ context.Context, id string) (model.LiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok {
		return model.LiveStatus{}, repository.ErrStatusNotFound
	}
	return st, nil
}

func (s *fakeStatusStore) Save(_ context.Context, st model.LiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.SubmissionID] = st
	s.history = append(s.history, st.Status)
	return nil
}

// fakeJudger returns results from a script, one entry per call.
type fakeJudger struct {
	mu      sync.Mutex
	script  []judgeOutcome
	calls   int
	lastReq judgeService.JudgeRequest
}

type judgeOutcome struct {
	result *judgeService.JudgeResult
	err    error
}

func (j *fakeJudger) Judge(_ context.Context, req judgeService.JudgeRequest) (*judgeService.JudgeResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastReq = req
	idx := j.calls
	if idx >= len(j.script) {
		idx = len(j.script) - 1
	}
	j.calls++
	out := j.script[idx]
	return out.result, out.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.VerdictEvent
	err    error
}

func (p *fakePublisher) PublishVerdict(_ context.Context, event model.VerdictEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}
