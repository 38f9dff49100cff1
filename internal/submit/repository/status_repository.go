package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/submit/model"
	appErr "codearena/pkg/errors"
)

const statusKeyPrefix = "submission:status:"

// ErrStatusNotFound is returned when no live status is cached.
var ErrStatusNotFound = fmt.Errorf("submission status not found")

// StatusRepository keeps the live judging status of submissions in Redis.
type StatusRepository struct {
	cache cache.BasicOps
	TTL   time.Duration
}

func NewStatusRepository(cacheClient cache.BasicOps, ttl time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.LiveStatus, error) {
	if submissionID == "" {
		return model.LiveStatus{}, appErr.ValidationError("submission_id", "required")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return model.LiveStatus{}, appErr.Wrapf(err, appErr.CacheError, "read status failed")
	}
	if val == "" {
		return model.LiveStatus{}, ErrStatusNotFound
	}
	var status model.LiveStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return model.LiveStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return status, nil
}

func (r *StatusRepository) Save(ctx context.Context, status model.LiveStatus) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if status.UpdatedAt == 0 {
		status.UpdatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(data), r.TTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "store status failed")
	}
	return nil
}

// ReportProgress updates the case counters of a running submission.
func (r *StatusRepository) ReportProgress(ctx context.Context, submissionID string, done, total int) error {
	return r.Save(ctx, model.LiveStatus{
		SubmissionID: submissionID,
		Status:       model.StatusRunning,
		DoneCases:    done,
		TotalCases:   total,
	})
}
