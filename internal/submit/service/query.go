package service

import (
	"context"
	"errors"

	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceUnavailable replaces source text that can no longer be read from storage.
const SourceUnavailable = "[source unavailable]"

const sourceReadParallelism = 8

// Page is one page of submissions in creation order.
type Page struct {
	Items    []model.SubmissionView
	Total    int64
	Page     int
	PageSize int
}

// Get returns one submission with its source.
func (s *SubmitService) Get(ctx context.Context, submissionID string) (*model.SubmissionView, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	views := s.withSources(ctx, []*model.Submission{submission})
	return &views[0], nil
}

// List returns one page of all submissions. page is 1-based.
func (s *SubmitService) List(ctx context.Context, page, pageSize int) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	items, total, err := s.submissionRepo.List(ctxDB.ctx, (page-1)*pageSize, pageSize)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return &Page{Items: s.withSources(ctx, items), Total: total, Page: page, PageSize: pageSize}, nil
}

// ListByUser returns every submission of a user.
func (s *SubmitService) ListByUser(ctx context.Context, userID int64) ([]model.SubmissionView, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	items, err := s.submissionRepo.ListByUser(ctxDB.ctx, userID)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list user submissions failed")
	}
	return s.withSources(ctx, items), nil
}

// Attempts returns a user's submissions for one problem.
func (s *SubmitService) Attempts(ctx context.Context, userID, problemID int64) ([]model.SubmissionView, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	items, err := s.submissionRepo.ListByUserProblem(ctxDB.ctx, userID, problemID)
	ctxDB.cancel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list attempts failed")
	}
	return s.withSources(ctx, items), nil
}

func (s *SubmitService) getSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

// withSources reads the stored sources concurrently, keeping the input order.
func (s *SubmitService) withSources(ctx context.Context, items []*model.Submission) []model.SubmissionView {
	views := make([]model.SubmissionView, len(items))
	var g errgroup.Group
	g.SetLimit(sourceReadParallelism)
	for i, item := range items {
		i, item := i, item
		views[i].Submission = *item
		g.Go(func() error {
			source, err := s.readSource(ctx, item.SourceKey)
			if err != nil {
				logger.Warn(ctx, "read submission source failed",
					zap.String("submission_id", item.SubmissionID),
					zap.String("source_key", item.SourceKey),
					zap.Error(err),
				)
				source = SourceUnavailable
			}
			views[i].Source = source
			return nil
		})
	}
	_ = g.Wait()
	return views
}
