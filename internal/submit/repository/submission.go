package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"codearena/internal/common/db"
	"codearena/internal/judge/verdict"
	"codearena/internal/submit/model"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrVerdictAlreadyRecorded is returned when the row already left pending/running.
	ErrVerdictAlreadyRecorded = errors.New("verdict already recorded")
)

// SubmissionRepository defines submission persistence.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)
	List(ctx context.Context, offset, limit int) ([]*model.Submission, int64, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Submission, error)
	ListByUserProblem(ctx context.Context, userID, problemID int64) ([]*model.Submission, error)
	MarkRunning(ctx context.Context, submissionID string) error
	// RecordVerdict and RecordSystemError are the single write after judging.
	RecordVerdict(ctx context.Context, submissionID string, v verdict.Verdict, failedCase string, judgedAt time.Time) error
	RecordSystemError(ctx context.Context, submissionID, message string, judgedAt time.Time) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "submission_id, user_id, problem_id, language, version, source_key, status, verdict, failed_case, error_message, created_at, judged_at"

// Create inserts a pending submission.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}
	if submission.SourceKey == "" {
		return errors.New("sourceKey is required")
	}
	if submission.Status == "" {
		submission.Status = model.StatusPending
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO submissions
		(submission_id, user_id, problem_id, language, version, source_key, status, failed_case, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.UserID,
		submission.ProblemID,
		submission.Language,
		submission.Version,
		submission.SourceKey,
		string(submission.Status),
		submission.CreatedAt,
	)
	return err
}

func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	submission, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// List returns one page in creation order plus the total row count.
func (r *MySQLSubmissionRepository) List(ctx context.Context, offset, limit int) ([]*model.Submission, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM submissions").Scan(&total); err != nil {
		return nil, 0, err
	}
	query := "SELECT " + submissionColumns + " FROM submissions ORDER BY id ASC LIMIT ? OFFSET ?"
	items, err := r.query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE user_id = ? ORDER BY id ASC"
	return r.query(ctx, query, userID)
}

func (r *MySQLSubmissionRepository) ListByUserProblem(ctx context.Context, userID, problemID int64) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE user_id = ? AND problem_id = ? ORDER BY id ASC"
	return r.query(ctx, query, userID, problemID)
}

func (r *MySQLSubmissionRepository) MarkRunning(ctx context.Context, submissionID string) error {
	query := "UPDATE submissions SET status = ? WHERE submission_id = ? AND status = ?"
	_, err := r.db.Exec(ctx, query, string(model.StatusRunning), submissionID, string(model.StatusPending))
	return err
}

func (r *MySQLSubmissionRepository) RecordVerdict(ctx context.Context, submissionID string, v verdict.Verdict, failedCase string, judgedAt time.Time) error {
	query := `
		UPDATE submissions
		SET status = ?, verdict = ?, failed_case = ?, error_message = '', judged_at = ?
		WHERE submission_id = ? AND status IN (?, ?)
	`
	return r.finish(ctx, query, string(model.StatusFinished), v.String(), failedCase, judgedAt, submissionID)
}

func (r *MySQLSubmissionRepository) RecordSystemError(ctx context.Context, submissionID, message string, judgedAt time.Time) error {
	query := `
		UPDATE submissions
		SET status = ?, verdict = NULL, failed_case = '', error_message = ?, judged_at = ?
		WHERE submission_id = ? AND status IN (?, ?)
	`
	return r.finish(ctx, query, string(model.StatusSystemError), truncateMessage(message), judgedAt, submissionID)
}

func (r *MySQLSubmissionRepository) finish(ctx context.Context, query string, args ...interface{}) error {
	args = append(args, string(model.StatusPending), string(model.StatusRunning))
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVerdictAlreadyRecorded
	}
	return nil
}

func (r *MySQLSubmissionRepository) query(ctx context.Context, query string, args ...interface{}) ([]*model.Submission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	submission := &model.Submission{}
	var (
		status   string
		verdictS sql.NullString
		judgedAt sql.NullTime
	)
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.UserID,
		&submission.ProblemID,
		&submission.Language,
		&submission.Version,
		&submission.SourceKey,
		&status,
		&verdictS,
		&submission.FailedCase,
		&submission.ErrorMessage,
		&submission.CreatedAt,
		&judgedAt,
	); err != nil {
		return nil, err
	}
	submission.Status = model.Status(status)
	if verdictS.Valid && verdictS.String != "" {
		v, err := verdict.ParseVerdict(verdictS.String)
		if err != nil {
			return nil, fmt.Errorf("submission %s: %w", submission.SubmissionID, err)
		}
		submission.Verdict = &v
	}
	if judgedAt.Valid {
		t := judgedAt.Time
		submission.JudgedAt = &t
	}
	return submission, nil
}

const maxErrorMessage = 1024

func truncateMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorMessage {
		return msg[:maxErrorMessage]
	}
	return msg
}
