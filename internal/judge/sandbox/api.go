// Package sandbox is the HTTP client for the external code-execution sandbox.
package sandbox

import (
	"context"

	"codearena/internal/judge/verdict"
)

// Executor runs one program against one stdin. *Client implements it.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error)
}

// File is one source file sent to the sandbox. Name is optional.
type File struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// ExecuteRequest is the body of POST /api/v2/execute.
type ExecuteRequest struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Files    []File `json:"files"`
	Stdin    string `json:"stdin"`

	// Optional limits enforced by the sandbox itself.
	RunTimeoutMs        int64 `json:"run_timeout,omitempty"`
	RunMemoryLimitBytes int64 `json:"run_memory_limit,omitempty"`
}

// Phase is the compile or run stage reported by the sandbox.
// Memory is in kilobytes.
type Phase struct {
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	Code     *int    `json:"code"`
	Signal   *string `json:"signal"`
	WallTime *int64  `json:"wall_time"`
	Memory   *int64  `json:"memory"`
}

// ExecuteResponse is the decoded sandbox reply.
type ExecuteResponse struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      *Phase `json:"run"`
	Compile  *Phase `json:"compile,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Runtime is one entry of GET /api/v2/runtimes.
type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
}

// ExecutionResult converts the response into the classifier's input.
func (r *ExecuteResponse) ExecutionResult() verdict.ExecutionResult {
	var out verdict.ExecutionResult
	if r == nil {
		return out
	}
	if r.Run != nil {
		out.Run = r.Run.toVerdict()
	}
	if r.Compile != nil {
		compile := r.Compile.toVerdict()
		out.Compile = &compile
	}
	return out
}

func (p *Phase) toVerdict() verdict.Phase {
	return verdict.Phase{
		Stdout:     p.Stdout,
		Stderr:     p.Stderr,
		Code:       p.Code,
		Signal:     p.Signal,
		WallTimeMs: p.WallTime,
		MemoryKB:   p.Memory,
	}
}
