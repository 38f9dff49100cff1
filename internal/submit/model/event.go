package model

import "codearena/internal/judge/verdict"

// VerdictEvent is published once per judged submission.
type VerdictEvent struct {
	SubmissionID string          `json:"submission_id"`
	UserID       int64           `json:"user_id"`
	ProblemID    int64           `json:"problem_id"`
	Language     string          `json:"language"`
	Verdict      verdict.Verdict `json:"verdict"`
	FailedCase   string          `json:"failed_case,omitempty"`
	JudgedAt     int64           `json:"judged_at"`
}
