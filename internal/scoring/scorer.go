// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scoring rates papers against the seed context with an AI model
// and classifies citation relationships. Scores are cached per (paper,
// context) so a paper is never scored twice in the same context.
package scoring

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/pkg/types"
)

// scoringPromptVersion is folded into the context version so prompt changes
// invalidate cached scores.
const scoringPromptVersion = "v1"

// Backend is the AI capability behind the scorer. ClaudeBackend is the
// production implementation; tests substitute fakes.
type Backend interface {
	Score(ctx context.Context, seed types.SeedContext, p types.Paper) (types.ScoreRecord, error)
	Classify(ctx context.Context, from, to types.Paper) (types.RelationshipRecord, error)
}

// Scorer wraps a Backend with caching, request coalescing, bounded
// concurrency, retries, and budget accounting.
type Scorer struct {
	backend Backend
	cache   *lru.Cache[string, types.ScoreRecord]
	group   singleflight.Group
	sem     *semaphore.Weighted
	policy  capability.RetryPolicy
	budget  *capability.Budget

	contextVersion string
}

// NewScorer builds a scorer for one session's seed context.
func NewScorer(backend Backend, seed types.SeedContext, cfg types.ScoringConfig, policy capability.RetryPolicy, budget *capability.Budget) (*Scorer, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, types.ScoreRecord](size)
	if err != nil {
		return nil, fmt.Errorf("creating score cache: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Scorer{
		backend:        backend,
		cache:          cache,
		sem:            semaphore.NewWeighted(int64(concurrency)),
		policy:         policy,
		budget:         budget,
		contextVersion: ContextVersion(seed),
	}, nil
}

// ContextVersion derives the scoring context identity from the seed.
// Changing keywords, description, or the prompt invalidates cached scores.
func ContextVersion(seed types.SeedContext) string {
	h := sha256.New()
	h.Write([]byte(seed.Keywords))
	h.Write([]byte{0})
	h.Write([]byte(seed.Description))
	h.Write([]byte{0})
	h.Write([]byte(scoringPromptVersion))
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}

// CacheKey returns the score cache key for a paper in the given context.
func CacheKey(paperKey, contextVersion string) string {
	h := sha256.Sum256([]byte(paperKey + "\x00" + contextVersion))
	return fmt.Sprintf("%x", h[:16])
}

// Score returns the paper's relevance score, calling the backend at most
// once per (paper, context). Concurrent requests for the same paper are
// coalesced into a single call; a cache hit costs nothing. Each backend
// attempt spends one budget unit.
func (s *Scorer) Score(ctx context.Context, seed types.SeedContext, p types.Paper) (types.ScoreRecord, error) {
	key := CacheKey(p.Key, s.contextVersion)
	if rec, ok := s.cache.Get(key); ok {
		return rec, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// A racing caller may have populated the cache while we waited.
		if rec, ok := s.cache.Get(key); ok {
			return rec, nil
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return types.ScoreRecord{}, err
		}
		defer s.sem.Release(1)

		var rec types.ScoreRecord
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			if err := s.budget.Spend(); err != nil {
				return err
			}
			var callErr error
			rec, callErr = s.backend.Score(ctx, seed, p)
			return callErr
		})
		if err != nil {
			return types.ScoreRecord{}, err
		}

		rec.PaperKey = p.Key
		rec.CacheKey = key
		rec.CreatedAt = time.Now().UTC()
		s.cache.Add(key, rec)
		return rec, nil
	})
	if err != nil {
		return types.ScoreRecord{}, err
	}
	return v.(types.ScoreRecord), nil
}

// Classify labels the relationship between a citing and a cited paper.
// Classifications are not cached; the scheduler only asks once per edge.
func (s *Scorer) Classify(ctx context.Context, from, to types.Paper) (types.RelationshipRecord, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return types.RelationshipRecord{}, err
	}
	defer s.sem.Release(1)

	var rec types.RelationshipRecord
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		if err := s.budget.Spend(); err != nil {
			return err
		}
		var callErr error
		rec, callErr = s.backend.Classify(ctx, from, to)
		return callErr
	})
	if err != nil {
		return types.RelationshipRecord{}, err
	}
	return rec, nil
}
