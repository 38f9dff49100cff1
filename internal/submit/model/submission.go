package model

import (
	"time"

	"codearena/internal/judge/verdict"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	// StatusSystemError marks a submission that could not be judged.
	// It carries no verdict and is distinct from every verdict.
	StatusSystemError Status = "system_error"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusSystemError
}

// Submission is one stored submission row.
type Submission struct {
	SubmissionID string           `json:"submission_id"`
	UserID       int64            `json:"user_id"`
	ProblemID    int64            `json:"problem_id"`
	Language     string           `json:"language"`
	Version      string           `json:"version"`
	SourceKey    string           `json:"-"`
	Status       Status           `json:"status"`
	Verdict      *verdict.Verdict `json:"verdict,omitempty"`
	FailedCase   string           `json:"failed_case,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	JudgedAt     *time.Time       `json:"judged_at,omitempty"`
}

// SubmissionView is a submission with its source text, as returned by list endpoints.
type SubmissionView struct {
	Submission
	Source string `json:"source"`
}

// LiveStatus is the short-lived status kept in Redis while a submission is judged.
type LiveStatus struct {
	SubmissionID string           `json:"submission_id"`
	Status       Status           `json:"status"`
	Verdict      *verdict.Verdict `json:"verdict,omitempty"`
	FailedCase   string           `json:"failed_case,omitempty"`
	DoneCases    int              `json:"done_cases"`
	TotalCases   int              `json:"total_cases"`
	UpdatedAt    int64            `json:"updated_at"`
}
