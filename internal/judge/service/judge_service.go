package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"codearena/internal/judge/sandbox"
	"codearena/internal/judge/testdata"
	"codearena/internal/judge/verdict"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultCallMargin = 2 * time.Second

// JudgeRequest describes one submission to judge.
type JudgeRequest struct {
	SubmissionID string
	Source       string
	Language     string
	Version      string
	Limits       verdict.Limits
	InputsRef    string
	OutputsRef   string
}

// CaseResult is the outcome of one executed test case.
type CaseResult struct {
	Name       string          `json:"name"`
	Verdict    verdict.Verdict `json:"verdict"`
	WallTimeMs int64           `json:"wall_time_ms"`
	MemoryKB   int64           `json:"memory_kb"`
}

// JudgeResult is the verdict of a whole submission. FailedCase is empty on AC.
// Cases holds the executed cases in order, up to and including the failing one.
type JudgeResult struct {
	Verdict    verdict.Verdict `json:"verdict"`
	FailedCase string          `json:"failed_case,omitempty"`
	Cases      []CaseResult    `json:"cases"`
}

// Service judges submissions against a problem's test cases.
type Service struct {
	loader        testdata.Loader
	executor      sandbox.Executor
	classifier    verdict.Classifier
	callMargin    time.Duration
	parallelism   int
	forwardLimits bool
	reporter      ProgressReporter
	metrics       *Metrics
	sem           chan struct{}
	slotWait      time.Duration
}

// Config holds service dependencies and settings.
type Config struct {
	Loader     testdata.Loader
	Executor   sandbox.Executor
	Classifier verdict.Classifier

	// CallMargin is added to the time limit to bound each sandbox call.
	CallMargin time.Duration
	// Parallelism > 1 runs the cases of one submission concurrently.
	Parallelism int
	// ForwardLimits sends the limits to the sandbox as run_timeout/run_memory_limit.
	ForwardLimits bool

	// MaxConcurrentJudges bounds submissions judged at once; 0 means unbounded.
	MaxConcurrentJudges int
	SlotWait            time.Duration

	Reporter ProgressReporter
	Metrics  *Metrics
}

// NewService creates a new judging service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	margin := cfg.CallMargin
	if margin <= 0 {
		margin = defaultCallMargin
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	slotWait := cfg.SlotWait
	if slotWait <= 0 {
		slotWait = 2 * time.Second
	}
	s := &Service{
		loader:        cfg.Loader,
		executor:      cfg.Executor,
		classifier:    cfg.Classifier,
		callMargin:    margin,
		parallelism:   parallelism,
		forwardLimits: cfg.ForwardLimits,
		reporter:      cfg.Reporter,
		metrics:       cfg.Metrics,
		slotWait:      slotWait,
	}
	if cfg.MaxConcurrentJudges > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrentJudges)
	}
	return s, nil
}

// Judge loads the test cases, runs the submission on each one and returns the
// verdict. Errors are infrastructure failures, never verdicts.
func (s *Service) Judge(ctx context.Context, req JudgeRequest) (*JudgeResult, error) {
	start := time.Now()
	res, err := s.judge(ctx, req)
	s.metrics.observe(res, err, time.Since(start))

	if err != nil {
		logger.Warn(ctx, "judging failed",
			zap.String("submission_id", req.SubmissionID),
			zap.Int("code", int(appErr.GetCode(err))),
			zap.Error(err),
		)
		return nil, err
	}
	logger.Info(ctx, "judging finished",
		zap.String("submission_id", req.SubmissionID),
		zap.String("verdict", res.Verdict.String()),
		zap.String("failed_case", res.FailedCase),
		zap.Int("cases_run", len(res.Cases)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Service) judge(ctx context.Context, req JudgeRequest) (*JudgeResult, error) {
	if strings.TrimSpace(req.Language) == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if err := s.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer s.releaseSlot()

	assets, err := s.loader.Load(ctx, req.InputsRef, req.OutputsRef)
	if err != nil {
		if appErr.GetCode(err) != appErr.AssetLoadFailed {
			err = appErr.Wrap(err, appErr.AssetLoadFailed)
		}
		return nil, err
	}

	names, err := pairCases(assets)
	if err != nil {
		logger.Error(ctx, "problem test data is incomplete",
			zap.String("inputs_ref", req.InputsRef),
			zap.String("outputs_ref", req.OutputsRef),
			zap.Error(err),
		)
		return nil, err
	}
	if len(names) == 0 {
		logger.Warn(ctx, "problem has no test cases", zap.String("inputs_ref", req.InputsRef))
	}

	if s.parallelism > 1 && len(names) > 1 {
		return s.runParallel(ctx, req, assets, names)
	}
	return s.runSequential(ctx, req, assets, names)
}

func (s *Service) runSequential(ctx context.Context, req JudgeRequest, assets *testdata.Assets, names []string) (*JudgeResult, error) {
	res := &JudgeResult{Verdict: verdict.Accepted, Cases: make([]CaseResult, 0, len(names))}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, s.sandboxFailure(ctx, name, err)
		}
		cr, err := s.runCase(ctx, req, name, assets.Inputs[name], assets.Outputs[name])
		if err != nil {
			return nil, err
		}
		res.Cases = append(res.Cases, cr)
		s.report(ctx, req.SubmissionID, i+1, len(names))
		if cr.Verdict != verdict.Accepted {
			res.Verdict = cr.Verdict
			res.FailedCase = name
			return res, nil
		}
	}
	return res, nil
}

// runParallel executes the cases concurrently, then scans them in case order so
// the outcome matches the sequential scan: the first case that either failed in
// the sandbox or got a non-AC verdict decides. Cases ordered after a known
// failure are skipped.
func (s *Service) runParallel(ctx context.Context, req JudgeRequest, assets *testdata.Assets, names []string) (*JudgeResult, error) {
	type outcome struct {
		result CaseResult
		err    error
		ran    bool
	}
	outcomes := make([]outcome, len(names))
	var earliest atomic.Int64
	earliest.Store(int64(len(names)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, name := range names {
		g.Go(func() error {
			if int64(i) > earliest.Load() {
				return nil
			}
			cr, err := s.runCase(gctx, req, name, assets.Inputs[name], assets.Outputs[name])
			outcomes[i] = outcome{result: cr, err: err, ran: true}
			if err != nil || cr.Verdict != verdict.Accepted {
				for {
					cur := earliest.Load()
					if int64(i) >= cur || earliest.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &JudgeResult{Verdict: verdict.Accepted, Cases: make([]CaseResult, 0, len(names))}
	for i, o := range outcomes {
		if !o.ran {
			// Only cases after an earlier failure are skipped.
			return nil, appErr.Newf(appErr.JudgeSystemError, "case %s was not run", names[i])
		}
		if o.err != nil {
			return nil, o.err
		}
		res.Cases = append(res.Cases, o.result)
		if o.result.Verdict != verdict.Accepted {
			res.Verdict = o.result.Verdict
			res.FailedCase = o.result.Name
			break
		}
	}
	s.report(ctx, req.SubmissionID, len(res.Cases), len(names))
	return res, nil
}

func (s *Service) runCase(ctx context.Context, req JudgeRequest, name, input, expected string) (CaseResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout(req.Limits))
	defer cancel()

	execReq := sandbox.ExecuteRequest{
		Language: req.Language,
		Version:  req.Version,
		Files:    []sandbox.File{{Content: req.Source}},
		Stdin:    input,
	}
	if s.forwardLimits {
		execReq.RunTimeoutMs = req.Limits.TimeMs
		execReq.RunMemoryLimitBytes = req.Limits.MemoryKB * 1024
	}

	resp, err := s.executor.Execute(callCtx, execReq)
	if err == nil && (resp == nil || resp.Run == nil) {
		err = &sandbox.Error{Kind: sandbox.ErrProtocol, Op: "execute", Detail: "empty response"}
	}
	if err != nil {
		return CaseResult{}, s.sandboxFailure(ctx, name, err)
	}

	result := resp.ExecutionResult()
	cr := CaseResult{
		Name:    name,
		Verdict: s.classifier.Classify(result, expected, req.Limits),
	}
	if result.Run.WallTimeMs != nil {
		cr.WallTimeMs = *result.Run.WallTimeMs
	}
	if result.Run.MemoryKB != nil {
		cr.MemoryKB = *result.Run.MemoryKB
	}
	logger.Debug(ctx, "test case judged",
		zap.String("case", name),
		zap.String("verdict", cr.Verdict.String()),
		zap.Int64("wall_time_ms", cr.WallTimeMs),
		zap.Int64("memory_kb", cr.MemoryKB),
	)
	return cr, nil
}

func (s *Service) callTimeout(limits verdict.Limits) time.Duration {
	if limits.TimeMs <= 0 {
		return s.callMargin
	}
	return time.Duration(limits.TimeMs)*time.Millisecond + s.callMargin
}

// sandboxFailure classifies a failed call. When the caller's own context ended
// the cause is the caller, not the sandbox.
func (s *Service) sandboxFailure(ctx context.Context, name string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return appErr.Wrapf(err, appErr.Timeout, "judging deadline exceeded").WithDetail("case", name)
		}
		return appErr.Wrapf(ctxErr, appErr.SandboxFailure, "judging cancelled").WithDetail("case", name)
	}
	return appErr.Wrapf(err, appErr.SandboxFailure, "sandbox execution failed on case %s", name).
		WithDetail("case", name).
		WithDetail("sandbox_code", int(sandbox.CodeOf(err)))
}

// pairCases returns the ordered case names. Every input needs an expected
// output; outputs without an input are ignored.
func pairCases(assets *testdata.Assets) ([]string, error) {
	inputs := mapset.NewThreadUnsafeSetFromMapKeys(assets.Inputs)
	outputs := mapset.NewThreadUnsafeSetFromMapKeys(assets.Outputs)

	if missing := inputs.Difference(outputs); missing.Cardinality() > 0 {
		names := missing.ToSlice()
		slices.SortFunc(names, compareCaseNames)
		return nil, appErr.Newf(appErr.IncompletePairing, "test cases without expected output: %s", strings.Join(names, ", ")).
			WithDetail("missing_outputs", names)
	}

	names := inputs.ToSlice()
	slices.SortFunc(names, compareCaseNames)
	return names, nil
}

// compareCaseNames orders integer names numerically before all other names,
// which are ordered lexically.
func compareCaseNames(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if c := cmp.Compare(ai, bi); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SortCaseNames sorts names in judging order.
func SortCaseNames(names []string) {
	slices.SortFunc(names, compareCaseNames)
}
