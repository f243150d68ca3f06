// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scoring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/pkg/types"
)

// fakeBackend counts calls and returns canned results or scripted errors.
type fakeBackend struct {
	scoreCalls    atomic.Int64
	classifyCalls atomic.Int64

	// failFirst makes the first N Score calls fail with failErr.
	failFirst int64
	failErr   error

	priority int
}

func (f *fakeBackend) Score(ctx context.Context, seed types.SeedContext, p types.Paper) (types.ScoreRecord, error) {
	n := f.scoreCalls.Add(1)
	if n <= f.failFirst {
		return types.ScoreRecord{}, f.failErr
	}
	pr := f.priority
	if pr == 0 {
		pr = 4
	}
	return types.ScoreRecord{Priority: pr, Rationale: "relevant"}, nil
}

func (f *fakeBackend) Classify(ctx context.Context, from, to types.Paper) (types.RelationshipRecord, error) {
	f.classifyCalls.Add(1)
	return types.RelationshipRecord{
		FromKey: from.Key, ToKey: to.Key,
		Type: types.RelBuildsOn, Confidence: 0.8,
	}, nil
}

func testScorer(t *testing.T, backend Backend, budget *capability.Budget) *Scorer {
	t.Helper()
	if budget == nil {
		budget = capability.NewBudget(0)
	}
	policy := capability.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	s, err := NewScorer(backend, types.SeedContext{Keywords: "gnn"}, types.ScoringConfig{}, policy, budget)
	require.NoError(t, err)
	return s
}

func TestScore_CachedAfterFirstCall(t *testing.T) {
	backend := &fakeBackend{}
	s := testScorer(t, backend, nil)
	seed := types.SeedContext{Keywords: "gnn"}
	p := types.Paper{Key: "doi:10.1/a", Title: "Paper A"}

	first, err := s.Score(context.Background(), seed, p)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Priority)
	assert.Equal(t, "doi:10.1/a", first.PaperKey)
	assert.NotEmpty(t, first.CacheKey)

	second, err := s.Score(context.Background(), seed, p)
	require.NoError(t, err)
	assert.Equal(t, first.CacheKey, second.CacheKey)

	// Second score was a cache hit: exactly one backend call.
	assert.Equal(t, int64(1), backend.scoreCalls.Load())
}

func TestScore_ConcurrentRequestsCoalesced(t *testing.T) {
	backend := &fakeBackend{}
	s := testScorer(t, backend, nil)
	seed := types.SeedContext{Keywords: "gnn"}
	p := types.Paper{Key: "doi:10.1/a", Title: "Paper A"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Score(context.Background(), seed, p)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), backend.scoreCalls.Load())
}

func TestScore_RateLimitedTwiceThenSucceeds(t *testing.T) {
	backend := &fakeBackend{
		failFirst: 2,
		failErr:   capability.FromStatus("score paper", 429),
	}
	s := testScorer(t, backend, nil)

	rec, err := s.Score(context.Background(), types.SeedContext{Keywords: "gnn"}, types.Paper{Key: "a"})
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Priority)
	// Two rate-limited attempts plus the success: exactly three calls.
	assert.Equal(t, int64(3), backend.scoreCalls.Load())
}

func TestScore_PermanentFailureNotRetried(t *testing.T) {
	backend := &fakeBackend{
		failFirst: 100,
		failErr:   capability.Permanent("score paper", errors.New("bad request")),
	}
	s := testScorer(t, backend, nil)

	_, err := s.Score(context.Background(), types.SeedContext{Keywords: "gnn"}, types.Paper{Key: "a"})
	require.Error(t, err)
	assert.True(t, capability.IsPermanent(err))
	assert.Equal(t, int64(1), backend.scoreCalls.Load())

	// Failures are not cached: a later attempt calls the backend again.
	_, err = s.Score(context.Background(), types.SeedContext{Keywords: "gnn"}, types.Paper{Key: "a"})
	require.Error(t, err)
	assert.Equal(t, int64(2), backend.scoreCalls.Load())
}

func TestScore_BudgetSpentPerAttempt(t *testing.T) {
	backend := &fakeBackend{
		failFirst: 1,
		failErr:   capability.FromStatus("score paper", 503),
	}
	budget := capability.NewBudget(2)
	s := testScorer(t, backend, budget)

	_, err := s.Score(context.Background(), types.SeedContext{Keywords: "gnn"}, types.Paper{Key: "a"})
	require.NoError(t, err)
	assert.True(t, budget.Exhausted())

	_, err = s.Score(context.Background(), types.SeedContext{Keywords: "gnn"}, types.Paper{Key: "b"})
	assert.ErrorIs(t, err, capability.ErrBudgetExhausted)
}

func TestScore_DifferentPapersScoredSeparately(t *testing.T) {
	backend := &fakeBackend{}
	s := testScorer(t, backend, nil)
	seed := types.SeedContext{Keywords: "gnn"}

	_, err := s.Score(context.Background(), seed, types.Paper{Key: "a"})
	require.NoError(t, err)
	_, err = s.Score(context.Background(), seed, types.Paper{Key: "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), backend.scoreCalls.Load())
}

func TestContextVersion_ChangesWithSeed(t *testing.T) {
	a := ContextVersion(types.SeedContext{Keywords: "gnn"})
	b := ContextVersion(types.SeedContext{Keywords: "gnn", Description: "graph learning"})
	c := ContextVersion(types.SeedContext{Keywords: "gnn"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestCacheKey_Distinct(t *testing.T) {
	assert.NotEqual(t, CacheKey("a", "v1"), CacheKey("b", "v1"))
	assert.NotEqual(t, CacheKey("a", "v1"), CacheKey("a", "v2"))
	assert.Equal(t, CacheKey("a", "v1"), CacheKey("a", "v1"))
}

func TestClassify(t *testing.T) {
	backend := &fakeBackend{}
	s := testScorer(t, backend, nil)

	rec, err := s.Classify(context.Background(),
		types.Paper{Key: "from", Title: "Citing"},
		types.Paper{Key: "to", Title: "Cited"})
	require.NoError(t, err)
	assert.Equal(t, types.RelBuildsOn, rec.Type)
	assert.Equal(t, "from", rec.FromKey)
	assert.Equal(t, int64(1), backend.classifyCalls.Load())
}
