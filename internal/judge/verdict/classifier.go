package verdict

import "strings"

// Memory is measured in kilobytes throughout the judging pipeline.
// Problem storage keeps megabytes, LimitsFromProblem converts.

// Limits are the resource limits a submission is judged under.
type Limits struct {
	TimeMs   int64
	MemoryKB int64
}

// LimitsFromProblem converts the stored problem limits (ms, MB) to classifier limits.
func LimitsFromProblem(timeMs, memoryMB int64) Limits {
	return Limits{TimeMs: timeMs, MemoryKB: memoryMB * 1024}
}

// Tolerance is subtracted from each limit before a killed process is attributed to it.
type Tolerance struct {
	TimeMs   int64 `yaml:"timeMs"`
	MemoryKB int64 `yaml:"memoryKB"`
}

// DefaultTolerance matches what the sandbox reports for processes killed right at a limit.
var DefaultTolerance = Tolerance{TimeMs: 5, MemoryKB: 5000}

// Phase is one stage (compile or run) of an execution as reported by the sandbox.
// Pointer fields are absent when nil.
type Phase struct {
	Stdout     string
	Stderr     string
	Code       *int
	Signal     *string
	WallTimeMs *int64
	MemoryKB   *int64
}

// ExecutionResult is the sandbox outcome of running a submission on one test case.
type ExecutionResult struct {
	Run     Phase
	Compile *Phase
}

// Classifier maps an execution to a verdict. The zero value uses no tolerance;
// use NewClassifier for the defaults.
type Classifier struct {
	Tolerance Tolerance
}

func NewClassifier(tol Tolerance) Classifier {
	return Classifier{Tolerance: tol}
}

// Classify derives the verdict for one test case. The checks run in a fixed order:
// compile failure, then signal termination, then exit code, then output comparison.
func (c Classifier) Classify(result ExecutionResult, expected string, limits Limits) Verdict {
	if result.Compile != nil && result.Compile.Code != nil && *result.Compile.Code != 0 {
		return CompileError
	}

	run := result.Run
	if run.Signal != nil {
		if !isKillSignal(*run.Signal) || run.WallTimeMs == nil || run.MemoryKB == nil {
			return RuntimeError
		}
		if *run.WallTimeMs >= limits.TimeMs-c.Tolerance.TimeMs {
			return TimeLimitExceeded
		}
		if *run.MemoryKB >= limits.MemoryKB-c.Tolerance.MemoryKB {
			return MemoryLimitExceeded
		}
		return RuntimeError
	}

	if run.Code == nil || *run.Code != 0 {
		return RuntimeError
	}

	if strings.TrimSpace(run.Stdout) == strings.TrimSpace(expected) {
		return Accepted
	}
	return WrongAnswer
}

// Classify uses DefaultTolerance.
func Classify(result ExecutionResult, expected string, limits Limits) Verdict {
	return NewClassifier(DefaultTolerance).Classify(result, expected, limits)
}

func isKillSignal(sig string) bool {
	switch strings.ToUpper(strings.TrimSpace(sig)) {
	case "SIGKILL", "KILL", "9":
		return true
	}
	return false
}
