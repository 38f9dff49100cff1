package model

import "codearena/internal/judge/verdict"

// Problem holds the judging-relevant columns of a problem.
type Problem struct {
	ProblemID     int64  `json:"problem_id"`
	Name          string `json:"name"`
	StatementURL  string `json:"statement_url"`
	TestCasesRef  string `json:"test_cases_ref"`
	OutputsRef    string `json:"outputs_ref"`
	MemoryMBLimit int64  `json:"memory_mb_limit"`
	TimeMsLimit   int64  `json:"time_ms_limit"`
}

// Limits converts the stored limits for the classifier.
func (p *Problem) Limits() verdict.Limits {
	return verdict.LimitsFromProblem(p.TimeMsLimit, p.MemoryMBLimit)
}
