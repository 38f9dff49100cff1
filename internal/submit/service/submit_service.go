package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"codearena/internal/common/cache"
	"codearena/internal/common/storage"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/sandbox"
	"codearena/internal/submit/model"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submit:idempotency:"
	rateUserKeyPrefix    = "submit:rate:user:"
	rateIPKeyPrefix      = "submit:rate:ip:"
	defaultSourcePrefix  = "submissions"
	defaultMaxCodeBytes  = 2 << 20
	defaultPageSize      = 20
	maxPageSize          = 100
	processingMarker     = "processing"
)

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
	Status  time.Duration `yaml:"status"`
	// Judge bounds the whole judging of one submission, retries included.
	Judge time.Duration `yaml:"judge"`
}

// StatusStore keeps the live status of a submission.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (model.LiveStatus, error)
	Save(ctx context.Context, status model.LiveStatus) error
}

// RuntimeLister reports the language versions installed in the sandbox.
type RuntimeLister interface {
	Runtimes(ctx context.Context) ([]sandbox.Runtime, error)
}

// Config holds submit service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	ProblemRepo    repository.ProblemRepository
	StatusRepo     StatusStore
	Storage        storage.ObjectStorage
	Judger         judgeService.Judger

	// Optional collaborators.
	Publisher repository.VerdictPublisher
	Cache     cache.BasicOps
	Runtimes  RuntimeLister

	Retry           judgeService.RetryPolicy
	SourceBucket    string
	SourceKeyPrefix string
	MaxCodeBytes    int
	IdempotencyTTL  time.Duration
	RateLimit       RateLimitConfig
	Timeouts        TimeoutConfig
}

// SubmitService handles submission intake, judging and listing.
type SubmitService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    repository.ProblemRepository
	statusRepo     StatusStore
	storage        storage.ObjectStorage
	judger         judgeService.Judger
	publisher      repository.VerdictPublisher
	cache          cache.BasicOps
	runtimes       RuntimeLister

	retry           judgeService.RetryPolicy
	sourceBucket    string
	sourceKeyPrefix string
	maxCodeBytes    int
	idempotencyTTL  time.Duration
	rateLimit       RateLimitConfig
	timeouts        TimeoutConfig
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	UserID         int64
	ProblemID      int64
	Language       string
	Version        string
	SourceCode     string
	IdempotencyKey string
	ClientIP       string
}

// SubmitOutput is the judged submission. Result is nil when the submission
// was already judged under the same idempotency key.
type SubmitOutput struct {
	Submission *model.Submission         `json:"submission"`
	Result     *judgeService.JudgeResult `json:"result,omitempty"`
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.ProblemRepo == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Judger == nil {
		return nil, fmt.Errorf("judger is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = judgeService.DefaultRetryPolicy
	}
	return &SubmitService{
		submissionRepo:  cfg.SubmissionRepo,
		problemRepo:     cfg.ProblemRepo,
		statusRepo:      cfg.StatusRepo,
		storage:         cfg.Storage,
		judger:          cfg.Judger,
		publisher:       cfg.Publisher,
		cache:           cfg.Cache,
		runtimes:        cfg.Runtimes,
		retry:           cfg.Retry,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: cfg.SourceKeyPrefix,
		maxCodeBytes:    cfg.MaxCodeBytes,
		idempotencyTTL:  cfg.IdempotencyTTL,
		rateLimit:       cfg.RateLimit,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Submit stores the source, judges it and persists the verdict.
// A judging failure leaves the submission in the system_error state and is
// returned as an error carrying the submission id.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (*SubmitOutput, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}

	problem, err := s.getProblem(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}
	version, err := s.resolveVersion(ctx, input.Language, input.Version)
	if err != nil {
		return nil, err
	}

	idemKey := idempotencyCacheKey(input.UserID, input.IdempotencyKey)
	acquired, existingID, err := s.acquireIdempotency(ctx, idemKey)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		existing, getErr := s.Get(ctx, existingID)
		if getErr != nil {
			return nil, getErr
		}
		return &SubmitOutput{Submission: &existing.Submission}, nil
	}

	submissionID := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.SubmissionID, submissionID)
	submission := &model.Submission{
		SubmissionID: submissionID,
		UserID:       input.UserID,
		ProblemID:    input.ProblemID,
		Language:     input.Language,
		Version:      version,
		SourceKey:    s.buildSourceKey(submissionID, input.Language),
		Status:       model.StatusPending,
		CreatedAt:    time.Now(),
	}

	if err := s.uploadSource(ctx, submission.SourceKey, input.SourceCode); err != nil {
		s.releaseIdempotency(ctx, idemKey, acquired)
		return nil, err
	}
	if err := s.createSubmission(ctx, submission); err != nil {
		s.releaseIdempotency(ctx, idemKey, acquired)
		return nil, err
	}
	s.finalizeIdempotency(ctx, idemKey, submissionID, acquired)

	s.markRunning(ctx, submission)

	req := judgeService.JudgeRequest{
		SubmissionID: submissionID,
		Source:       input.SourceCode,
		Language:     input.Language,
		Version:      version,
		Limits:       problem.Limits(),
		InputsRef:    problem.TestCasesRef,
		OutputsRef:   problem.OutputsRef,
	}
	result, judgeErr := s.judge(ctx, req)
	judgedAt := time.Now()
	submission.JudgedAt = &judgedAt

	// The outcome is persisted even when the caller went away mid-judging.
	ctx = context.WithoutCancel(ctx)

	if judgeErr != nil {
		submission.Status = model.StatusSystemError
		submission.ErrorMessage = judgeErr.Error()
		if err := s.recordSystemError(ctx, submission); err != nil {
			return nil, err
		}
		s.saveLiveStatus(ctx, submission)
		return nil, appErr.Wrapf(judgeErr, appErr.GetCode(judgeErr), "judge submission failed").
			WithDetail("submission_id", submissionID)
	}

	v := result.Verdict
	submission.Status = model.StatusFinished
	submission.Verdict = &v
	submission.FailedCase = result.FailedCase
	if err := s.recordVerdict(ctx, submission); err != nil {
		return nil, err
	}
	s.saveLiveStatus(ctx, submission)
	s.publishVerdict(ctx, submission)

	return &SubmitOutput{Submission: submission, Result: result}, nil
}

func (s *SubmitService) judge(ctx context.Context, req judgeService.JudgeRequest) (*judgeService.JudgeResult, error) {
	ctxJudge := withTimeout(ctx, s.timeouts.Judge)
	defer ctxJudge.cancel()
	return judgeService.JudgeWithRetry(ctxJudge.ctx, s.judger, req, s.retry)
}

func (s *SubmitService) validateInput(input SubmitInput) error {
	if input.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(input.Language) == "" {
		return appErr.ValidationError("lang", "required")
	}
	if !model.SupportedLanguages.Contains(input.Language) {
		return appErr.New(appErr.LanguageNotSupported).WithMessage("Invalid language")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithMessage("Files are bigger than 2MB")
	}
	if !utf8.ValidString(input.SourceCode) {
		return appErr.New(appErr.InvalidSourceEncoding).WithMessage("Source code must be in UTF-8")
	}
	return nil
}

func (s *SubmitService) getProblem(ctx context.Context, problemID int64) (*model.Problem, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	problem, err := s.problemRepo.GetByID(ctxDB.ctx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.New(appErr.ProblemNotFound).WithMessage("problem not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	return problem, nil
}

// resolveVersion fills an empty version from the sandbox runtime list when available.
func (s *SubmitService) resolveVersion(ctx context.Context, language, version string) (string, error) {
	version = strings.TrimSpace(version)
	if version != "" || s.runtimes == nil {
		return version, nil
	}
	runtimes, err := s.runtimes.Runtimes(ctx)
	if err != nil {
		logger.Warn(ctx, "list sandbox runtimes failed", zap.Error(err))
		return "", nil
	}
	resolved, ok := sandbox.ResolveVersion(runtimes, language)
	if !ok {
		return "", appErr.New(appErr.LanguageNotSupported).WithMessage("language is not installed in the sandbox")
	}
	return resolved, nil
}

// idempotencyCacheKey scopes a client key to its user; empty when no key was sent.
func idempotencyCacheKey(userID int64, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return idempotencyKeyPrefix + strconv.FormatInt(userID, 10) + ":" + key
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, cacheKey string) (bool, string, error) {
	if cacheKey == "" || s.cache == nil {
		return true, "", nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	existing, err := s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}

	ok, err := s.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, s.idempotencyWindow())
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err = s.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, cacheKey, submissionID string, acquired bool) {
	if !acquired || s.cache == nil || cacheKey == "" {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, cacheKey, submissionID, s.idempotencyWindow()); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, cacheKey string, acquired bool) {
	if !acquired || s.cache == nil || cacheKey == "" {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) idempotencyWindow() time.Duration {
	if s.idempotencyTTL <= 0 {
		return 10 * time.Minute
	}
	return s.idempotencyTTL
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.cache == nil || s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+fmt.Sprintf("%d", userID), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, objectKey, source string) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, objectKey, strings.NewReader(source), int64(len(source)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

func (s *SubmitService) readSource(ctx context.Context, objectKey string) (string, error) {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.GetObject(ctxStorage.ctx, s.sourceBucket, objectKey)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, int64(s.maxCodeBytes)+1))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *SubmitService) createSubmission(ctx context.Context, submission *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.Create(ctxDB.ctx, nil, submission); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

// markRunning is best effort: the verdict write accepts pending and running rows.
func (s *SubmitService) markRunning(ctx context.Context, submission *model.Submission) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.MarkRunning(ctxDB.ctx, submission.SubmissionID); err != nil {
		logger.Warn(ctx, "mark submission running failed", zap.Error(err))
	} else {
		submission.Status = model.StatusRunning
	}
	s.saveLiveStatus(ctx, &model.Submission{SubmissionID: submission.SubmissionID, Status: model.StatusRunning})
}

func (s *SubmitService) recordVerdict(ctx context.Context, submission *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.submissionRepo.RecordVerdict(ctxDB.ctx, submission.SubmissionID, *submission.Verdict, submission.FailedCase, *submission.JudgedAt)
	return persistError(err)
}

func (s *SubmitService) recordSystemError(ctx context.Context, submission *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.submissionRepo.RecordSystemError(ctxDB.ctx, submission.SubmissionID, submission.ErrorMessage, *submission.JudgedAt)
	return persistError(err)
}

func persistError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrVerdictAlreadyRecorded) {
		return appErr.Wrapf(err, appErr.VerdictAlreadyRecorded, "submission already judged")
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "persist verdict failed")
}

func (s *SubmitService) buildSourceKey(submissionID, language string) string {
	return fmt.Sprintf("%s/%s.%s", s.sourceKeyPrefix, submissionID, model.SourceExtension(language))
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
