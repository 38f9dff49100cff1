package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/submit/model"
)

const (
	defaultProblemCacheTTL      = 10 * time.Minute
	defaultProblemCacheEmptyTTL = time.Minute
	problemCacheKeyPrefix       = "problem:limits:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemRepository reads problem limits and test data refs.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*model.Problem, error)
	RandomID(ctx context.Context) (int64, error)
}

// MySQLProblemRepository reads problems from MySQL through a Redis cache.
type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewProblemRepository creates a problem repository. cacheClient may be nil.
func NewProblemRepository(database db.Database, cacheClient cache.BasicOps) *MySQLProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemCacheTTL, defaultProblemCacheEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.BasicOps, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &MySQLProblemRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

const problemColumns = "problem_id, name, statement_url, test_cases_ref, outputs_ref, memory_mb_limit, time_ms_limit"

func (r *MySQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, errors.New("problemID is required")
	}
	if r.cache == nil {
		return r.getByIDFromDB(ctx, problemID)
	}
	problem, found, err := cache.GetJSONCached(
		ctx,
		r.cache,
		problemCacheKey(problemID),
		r.ttl,
		r.emptyTTL,
		func(ctx context.Context) (*model.Problem, bool, error) {
			problem, err := r.getByIDFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, err
			}
			return problem, true, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if !found || problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

// RandomID picks a random problem, used by arena matchmaking.
func (r *MySQLProblemRepository) RandomID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, "SELECT problem_id FROM problems ORDER BY RAND() LIMIT 1").Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return 0, ErrProblemNotFound
		}
		return 0, err
	}
	return id, nil
}

// Invalidate drops the cached copy of a problem.
func (r *MySQLProblemRepository) Invalidate(ctx context.Context, problemID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, problemCacheKey(problemID))
}

func (r *MySQLProblemRepository) getByIDFromDB(ctx context.Context, problemID int64) (*model.Problem, error) {
	query := "SELECT " + problemColumns + " FROM problems WHERE problem_id = ? LIMIT 1"
	p := &model.Problem{}
	err := r.db.QueryRow(ctx, query, problemID).Scan(
		&p.ProblemID,
		&p.Name,
		&p.StatementURL,
		&p.TestCasesRef,
		&p.OutputsRef,
		&p.MemoryMBLimit,
		&p.TimeMsLimit,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return p, nil
}

func problemCacheKey(problemID int64) string {
	return problemCacheKeyPrefix + strconv.FormatInt(problemID, 10)
}
