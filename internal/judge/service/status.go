package service

import (
	"context"

	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
)

// ProgressReporter receives the number of finished cases while a submission is judged.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, submissionID string, done, total int) error
}

func (s *Service) report(ctx context.Context, submissionID string, done, total int) {
	if s.reporter == nil || submissionID == "" {
		return
	}
	if err := s.reporter.ReportProgress(ctx, submissionID, done, total); err != nil {
		logger.Warn(ctx, "report judging progress failed", zap.Error(err))
	}
}
