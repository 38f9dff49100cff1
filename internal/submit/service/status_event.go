package service

import (
	"context"
	"errors"

	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// Status returns the live status of a submission, falling back to the stored row
// once the cached entry has expired.
func (s *SubmitService) Status(ctx context.Context, submissionID string) (model.LiveStatus, error) {
	if submissionID == "" {
		return model.LiveStatus{}, appErr.ValidationError("submission_id", "required")
	}
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	status, err := s.statusRepo.Get(ctxStatus.ctx, submissionID)
	ctxStatus.cancel()
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, repository.ErrStatusNotFound) {
		logger.Warn(ctx, "read live status failed", zap.String("submission_id", submissionID), zap.Error(err))
	}

	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return model.LiveStatus{}, err
	}
	return liveStatusOf(submission), nil
}

func (s *SubmitService) saveLiveStatus(ctx context.Context, submission *model.Submission) {
	ctxStatus := withTimeout(ctx, s.timeouts.Status)
	defer ctxStatus.cancel()
	if err := s.statusRepo.Save(ctxStatus.ctx, liveStatusOf(submission)); err != nil {
		logger.Warn(ctx, "save live status failed", zap.Error(err))
	}
}

// publishVerdict is best effort; the stored row is the source of truth.
func (s *SubmitService) publishVerdict(ctx context.Context, submission *model.Submission) {
	if s.publisher == nil || submission.Verdict == nil {
		return
	}
	event := model.VerdictEvent{
		SubmissionID: submission.SubmissionID,
		UserID:       submission.UserID,
		ProblemID:    submission.ProblemID,
		Language:     submission.Language,
		Verdict:      *submission.Verdict,
		FailedCase:   submission.FailedCase,
	}
	if submission.JudgedAt != nil {
		event.JudgedAt = submission.JudgedAt.Unix()
	}
	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.publisher.PublishVerdict(ctxMQ.ctx, event); err != nil {
		logger.Error(ctx, "publish verdict event failed", zap.Error(err))
	}
}

func liveStatusOf(submission *model.Submission) model.LiveStatus {
	status := model.LiveStatus{
		SubmissionID: submission.SubmissionID,
		Status:       submission.Status,
		Verdict:      submission.Verdict,
		FailedCase:   submission.FailedCase,
	}
	if submission.JudgedAt != nil {
		status.UpdatedAt = submission.JudgedAt.Unix()
	}
	return status
}
