// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package expand

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/internal/normalize"
	"github.com/Annh770/Blatt/internal/retrieval"
	"github.com/Annh770/Blatt/pkg/types"
)

func s2Rec(id, title string, citations int) normalize.RawRecord {
	return normalize.RawRecord{
		Source: types.SourceSemanticScholar,
		SemanticScholar: &normalize.S2Record{
			PaperID:       id,
			Title:         title,
			CitationCount: citations,
			ExternalIDs:   normalize.S2ExternalIDs{DOI: "10.1/" + id},
		},
	}
}

// fakeSearch returns canned seed records.
type fakeSearch struct {
	records []normalize.RawRecord
	err     error
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) Search(ctx context.Context, query string) ([]normalize.RawRecord, error) {
	return f.records, f.err
}

// fakeCitations maps Semantic Scholar paper IDs to canned citation and
// reference lists, with optional per-ID failures.
type fakeCitations struct {
	citing map[string][]normalize.RawRecord
	cited  map[string][]normalize.RawRecord
	fail   map[string]error

	calls atomic.Int64
}

func (f *fakeCitations) Citations(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	f.calls.Add(1)
	if err := f.fail[paperID]; err != nil {
		return nil, err
	}
	return f.citing[paperID], nil
}

func (f *fakeCitations) References(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	f.calls.Add(1)
	if err := f.fail[paperID]; err != nil {
		return nil, err
	}
	return f.cited[paperID], nil
}

// fakeScorer scores papers by a priority map keyed on title, defaulting
// to defaultPriority. Titles in fail return their error instead.
type fakeScorer struct {
	priorities      map[string]int
	defaultPriority int
	fail            map[string]error
	scoreCalls      atomic.Int64
}

func (f *fakeScorer) Score(ctx context.Context, seed types.SeedContext, p types.Paper) (types.ScoreRecord, error) {
	f.scoreCalls.Add(1)
	if err := f.fail[p.Title]; err != nil {
		return types.ScoreRecord{}, err
	}
	pr := f.defaultPriority
	if v, ok := f.priorities[p.Title]; ok {
		pr = v
	}
	return types.ScoreRecord{Priority: pr, Rationale: "canned", CreatedAt: time.Now()}, nil
}

func (f *fakeScorer) Classify(ctx context.Context, from, to types.Paper) (types.RelationshipRecord, error) {
	return types.RelationshipRecord{
		FromKey: from.Key, ToKey: to.Key,
		Type: types.RelBuildsOn, Confidence: 0.7,
	}, nil
}

func testConfig() types.EngineConfig {
	return types.EngineConfig{
		Expansion: types.ExpansionConfig{
			MaxRounds:         2,
			PriorityThreshold: 4,
		},
	}
}

func fastPolicy() capability.RetryPolicy {
	return capability.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestScheduler(search retrieval.SearchBackend, citations retrieval.CitationClient, scorer Scorer, cfg types.EngineConfig, budget *capability.Budget) (*Scheduler, *bytes.Buffer) {
	var buf bytes.Buffer
	s := NewScheduler([]retrieval.SearchBackend{search}, citations, scorer, cfg, fastPolicy(), budget, &buf)
	return s, &buf
}

func TestRun_SeedExpandAndScore(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Seed One", 100),
		s2Rec("s2", "Seed Two", 50),
		s2Rec("s3", "Seed Three", 10),
	}}
	citations := &fakeCitations{
		citing: map[string][]normalize.RawRecord{
			"s1": {s2Rec("c1", "Citing One", 5), s2Rec("c2", "Citing Two", 3)},
			"s2": {s2Rec("c3", "Citing Three", 2)},
		},
		cited: map[string][]normalize.RawRecord{
			"s1": {s2Rec("r1", "Reference One", 200)},
			"s3": {s2Rec("r2", "Reference Two", 80)},
		},
	}
	// Seeds expand; discoveries stay below the threshold so the session
	// stops after one expansion round.
	scorer := &fakeScorer{defaultPriority: 2, priorities: map[string]int{
		"Seed One": 5, "Seed Two": 4, "Seed Three": 4,
	}}

	s, buf := newTestScheduler(search, citations, scorer, testConfig(), nil)
	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "test topic"})
	require.NoError(t, err)

	assert.Equal(t, StateDone, s.State())
	assert.False(t, snap.Partial)
	assert.NotEmpty(t, snap.SessionID)

	// 3 seeds + 5 discoveries.
	assert.Len(t, snap.Papers, 8)
	assert.Len(t, snap.Edges, 5)

	// Citing papers point at the frontier paper; references the other way.
	var foundCiting, foundRef bool
	for _, e := range snap.Edges {
		if e.FromKey == "doi:10.1/c1" && e.ToKey == "doi:10.1/s1" {
			foundCiting = true
		}
		if e.FromKey == "doi:10.1/s1" && e.ToKey == "doi:10.1/r1" {
			foundRef = true
		}
		assert.Equal(t, types.DirectionCites, e.Direction)
	}
	assert.True(t, foundCiting)
	assert.True(t, foundRef)

	// Round 0 (seed) + round 1, both sealed.
	require.Len(t, snap.Rounds, 2)
	assert.Equal(t, types.RoundSealed, snap.Rounds[0].Status)
	assert.Equal(t, types.RoundSealed, snap.Rounds[1].Status)
	assert.Len(t, snap.Rounds[0].Discovered, 3)
	assert.Len(t, snap.Rounds[1].Discovered, 5)

	// All eight papers were scored.
	assert.Equal(t, int64(8), scorer.scoreCalls.Load())

	assert.Contains(t, buf.String(), "no discovered papers reached the priority threshold")
}

func TestRun_FrontierOrderedByPriorityThenCitations(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Low Priority", 500),
		s2Rec("s2", "High Few Citations", 10),
		s2Rec("s3", "High Many Citations", 100),
		s2Rec("s4", "Below Threshold", 999),
	}}
	citations := &fakeCitations{}
	scorer := &fakeScorer{defaultPriority: 1, priorities: map[string]int{
		"Low Priority": 4, "High Few Citations": 5, "High Many Citations": 5,
	}}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	s, _ := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)

	// Round 1's frontier reflects the ordering decision.
	require.Len(t, snap.Rounds, 2)
	assert.Equal(t, []string{"doi:10.1/s3", "doi:10.1/s2", "doi:10.1/s1"}, snap.Rounds[1].Frontier)
}

func TestRun_MinorityFrontierFailureDegrades(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Seed One", 10),
		s2Rec("s2", "Seed Two", 10),
		s2Rec("s3", "Seed Three", 10),
	}}
	citations := &fakeCitations{
		citing: map[string][]normalize.RawRecord{
			"s1": {s2Rec("c1", "Citing One", 1)},
		},
		fail: map[string]error{
			"s2": capability.Permanent("fetch citations", errors.New("not found")),
		},
	}
	scorer := &fakeScorer{defaultPriority: 2, priorities: map[string]int{
		"Seed One": 5, "Seed Two": 5, "Seed Three": 5,
	}}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	s, buf := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)
	assert.False(t, snap.Partial)
	assert.Contains(t, buf.String(), "warning: expanding doi:10.1/s2 failed")
	// The failing paper degraded the round, it did not fail it.
	assert.Equal(t, types.RoundSealed, snap.Rounds[1].Status)
	assert.Len(t, snap.Rounds[1].Discovered, 1)
}

func TestRun_MajorityFrontierFailureFailsRound(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Seed One", 10),
		s2Rec("s2", "Seed Two", 10),
		s2Rec("s3", "Seed Three", 10),
	}}
	boom := capability.Permanent("fetch citations", errors.New("boom"))
	citations := &fakeCitations{
		fail: map[string]error{
			"s1": boom,
			"s2": boom,
		},
	}
	scorer := &fakeScorer{defaultPriority: 5}

	s, _ := newTestScheduler(search, citations, scorer, testConfig(), nil)
	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 frontier papers failed")

	assert.Equal(t, StateFailed, s.State())
	// Partial results preserved: the seeds are still there.
	assert.True(t, snap.Partial)
	assert.Len(t, snap.Papers, 3)
	assert.Equal(t, types.RoundFailed, snap.Rounds[1].Status)
}

func TestRun_TransientRetrievalFailureRetried(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{s2Rec("s1", "Seed One", 10)}}

	var attempts atomic.Int64
	citations := &retryingCitations{attempts: &attempts, succeedAfter: 2,
		records: []normalize.RawRecord{s2Rec("c1", "Citing One", 1)}}
	scorer := &fakeScorer{defaultPriority: 5, priorities: map[string]int{"Citing One": 1}}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	s, _ := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)
	assert.Len(t, snap.Papers, 2)
}

// retryingCitations fails its first succeedAfter calls with a 429.
type retryingCitations struct {
	attempts     *atomic.Int64
	succeedAfter int64
	records      []normalize.RawRecord
}

func (r *retryingCitations) Citations(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	if r.attempts.Add(1) <= r.succeedAfter {
		return nil, capability.FromStatus("fetch citations", 429)
	}
	return r.records, nil
}

func (r *retryingCitations) References(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	return nil, nil
}

func TestRun_BudgetExhaustionStopsGracefully(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Seed One", 10),
		s2Rec("s2", "Seed Two", 10),
	}}
	citations := &fakeCitations{
		citing: map[string][]normalize.RawRecord{
			"s1": {s2Rec("c1", "Citing One", 1)},
			"s2": {s2Rec("c2", "Citing Two", 1)},
		},
	}
	scorer := &fakeScorer{defaultPriority: 5}

	// Enough for the first frontier paper's two fetches only; the session
	// stops without failing.
	budget := capability.NewBudget(2)
	cfg := testConfig()
	s, buf := newTestScheduler(search, citations, scorer, cfg, budget)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, s.State())
	assert.False(t, snap.Partial)
	assert.Contains(t, buf.String(), "call budget exhausted")
	// Seeds plus whatever the budget allowed.
	assert.GreaterOrEqual(t, len(snap.Papers), 2)
}

func TestRun_CancellationPreservesPartialResults(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{s2Rec("s1", "Seed One", 10)}}

	ctx, cancel := context.WithCancel(context.Background())
	citations := &cancellingCitations{cancel: cancel}
	scorer := &fakeScorer{defaultPriority: 5}

	s, _ := newTestScheduler(search, citations, scorer, testConfig(), nil)
	snap, err := s.Run(ctx, types.SeedContext{Keywords: "t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)

	assert.Equal(t, StateFailed, s.State())
	assert.True(t, snap.Partial)
	assert.Len(t, snap.Papers, 1)
}

// cancellingCitations cancels the session context on first use.
type cancellingCitations struct {
	cancel context.CancelFunc
}

func (c *cancellingCitations) Citations(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	c.cancel()
	return nil, ctx.Err()
}

func (c *cancellingCitations) References(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	return nil, ctx.Err()
}

func TestRun_SharedDiscoveryDedupedAcrossFrontier(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Seed One", 10),
		s2Rec("s2", "Seed Two", 10),
	}}
	shared := s2Rec("shared", "Shared Discovery", 7)
	citations := &fakeCitations{
		citing: map[string][]normalize.RawRecord{
			"s1": {shared},
			"s2": {shared},
		},
	}
	scorer := &fakeScorer{defaultPriority: 5, priorities: map[string]int{"Shared Discovery": 1}}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	s, _ := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)

	// One paper, but an edge from it to each frontier paper.
	assert.Len(t, snap.Papers, 3)
	edgeCount := 0
	for _, e := range snap.Edges {
		if e.FromKey == "doi:10.1/shared" {
			edgeCount++
		}
	}
	assert.Equal(t, 2, edgeCount)
	// Scored once despite being discovered twice.
	assert.Equal(t, int64(3), scorer.scoreCalls.Load())
}

func TestRun_PermanentScoringFailureMarksPaperAndDegrades(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{
		s2Rec("s1", "Seed One", 10),
		s2Rec("s2", "Seed Two", 10),
	}}
	citations := &fakeCitations{}
	scorer := &fakeScorer{defaultPriority: 5, fail: map[string]error{
		"Seed Two": capability.Permanent("score paper", errors.New("priority 9 out of range")),
	}}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	s, buf := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, s.State())
	assert.False(t, snap.Partial)
	assert.Contains(t, buf.String(), "warning: scoring doi:10.1/s2 failed")

	// The seed round still seals; the failed paper stays, marked, unscored.
	assert.Equal(t, types.RoundSealed, snap.Rounds[0].Status)
	require.Len(t, snap.Papers, 2)
	var marked types.Paper
	for _, p := range snap.Papers {
		if p.Key == "doi:10.1/s2" {
			marked = p
		}
	}
	assert.Nil(t, marked.Score)
	assert.Contains(t, marked.ScoringFailed, "priority 9 out of range")

	// Only the successfully scored seed enters the frontier.
	require.Len(t, snap.Rounds, 2)
	assert.Equal(t, []string{"doi:10.1/s1"}, snap.Rounds[1].Frontier)
}

func TestRun_RelationshipsClassified(t *testing.T) {
	search := &fakeSearch{records: []normalize.RawRecord{s2Rec("s1", "Seed One", 10)}}
	citations := &fakeCitations{
		citing: map[string][]normalize.RawRecord{
			"s1": {s2Rec("c1", "Citing One", 1)},
		},
	}
	scorer := &fakeScorer{defaultPriority: 5, priorities: map[string]int{"Citing One": 3}}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	s, _ := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)

	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "doi:10.1/c1", snap.Relationships[0].FromKey)
	assert.Equal(t, types.RelBuildsOn, snap.Relationships[0].Type)
}

func TestRun_EmptySeedRejected(t *testing.T) {
	s, _ := newTestScheduler(&fakeSearch{}, &fakeCitations{}, &fakeScorer{}, testConfig(), nil)
	_, err := s.Run(context.Background(), types.SeedContext{})
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
}

func TestRun_MaxDiscoveredCap(t *testing.T) {
	var many []normalize.RawRecord
	for i := 0; i < 10; i++ {
		many = append(many, s2Rec(fmt.Sprintf("c%d", i), fmt.Sprintf("Citing %d", i), 1))
	}
	search := &fakeSearch{records: []normalize.RawRecord{s2Rec("s1", "Seed One", 10)}}
	citations := &fakeCitations{citing: map[string][]normalize.RawRecord{"s1": many}}
	scorer := &fakeScorer{defaultPriority: 5, priorities: map[string]int{"Seed One": 5}}
	for i := 0; i < 10; i++ {
		scorer.priorities[fmt.Sprintf("Citing %d", i)] = 1
	}

	cfg := testConfig()
	cfg.Expansion.MaxRounds = 1
	cfg.Expansion.MaxDiscovered = 4
	s, _ := newTestScheduler(search, citations, scorer, cfg, nil)

	snap, err := s.Run(context.Background(), types.SeedContext{Keywords: "t"})
	require.NoError(t, err)
	// 4 discoveries allowed in total, seed included.
	assert.LessOrEqual(t, len(snap.Papers), 5)
}
