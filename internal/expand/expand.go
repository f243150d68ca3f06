// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package expand drives the citation expansion loop: seed search, citation
// retrieval, relevance scoring, and the frontier decision, round by round
// until a stopping condition is met.
package expand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/internal/normalize"
	"github.com/Annh770/Blatt/internal/papergraph"
	"github.com/Annh770/Blatt/internal/retrieval"
	"github.com/Annh770/Blatt/pkg/types"
)

// State is the scheduler's phase within a session.
type State string

const (
	StateSeeding    State = "seeding"
	StateRetrieving State = "retrieving"
	StateScoring    State = "scoring"
	StateDeciding   State = "deciding"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// ErrCancelled marks a session stopped by context cancellation. The
// accumulated graph up to the cancelled round is preserved.
var ErrCancelled = errors.New("expansion cancelled")

// Scorer rates papers and classifies citation relationships. Implemented
// by scoring.Scorer; tests substitute fakes.
type Scorer interface {
	Score(ctx context.Context, seed types.SeedContext, p types.Paper) (types.ScoreRecord, error)
	Classify(ctx context.Context, from, to types.Paper) (types.RelationshipRecord, error)
}

// Scheduler runs one expansion session over a paper graph.
type Scheduler struct {
	graph     *papergraph.Store
	backends  []retrieval.SearchBackend
	citations retrieval.CitationClient
	scorer    Scorer

	cfg    types.EngineConfig
	policy capability.RetryPolicy
	budget *capability.Budget
	w      io.Writer

	mu    sync.Mutex
	state State

	discovered int // papers ingested this session, for the MaxDiscovered cap
}

// NewScheduler wires the capabilities into a session scheduler. The budget
// and retry policy are shared with the scorer so the whole session draws
// from one allowance.
func NewScheduler(backends []retrieval.SearchBackend, citations retrieval.CitationClient, scorer Scorer, cfg types.EngineConfig, policy capability.RetryPolicy, budget *capability.Budget, w io.Writer) *Scheduler {
	if budget == nil {
		budget = capability.NewBudget(cfg.Expansion.CallBudget)
	}
	return &Scheduler{
		backends:  backends,
		citations: citations,
		scorer:    scorer,
		cfg:       cfg,
		policy:    policy,
		budget:    budget,
		w:         w,
		state:     StateSeeding,
	}
}

// State returns the scheduler's current phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	fmt.Fprintf(s.w, "state: %s\n", st)
}

// Run executes the session: seed round, then expansion rounds until a
// stopping condition. It always returns the accumulated snapshot, partial
// when the session failed or was cancelled.
func (s *Scheduler) Run(ctx context.Context, seed types.SeedContext) (types.GraphSnapshot, error) {
	sessionID := uuid.NewString()
	s.graph = papergraph.New(sessionID, seed)

	seedKeys, err := s.seedRound(ctx, seed)
	if err != nil {
		s.setState(StateFailed)
		return s.graph.Snapshot(true), err
	}

	frontier, stop := s.decide(seedKeys, 0)
	maxRounds := s.cfg.Expansion.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}

	for round := 1; stop == "" && round <= maxRounds; round++ {
		discovered, err := s.expansionRound(ctx, round, frontier, seed)
		if err != nil {
			s.setState(StateFailed)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return s.graph.Snapshot(true), fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			return s.graph.Snapshot(true), err
		}

		frontier, stop = s.decide(discovered, round)
		if stop == "" && round == maxRounds {
			stop = "max rounds reached"
		}
	}
	if stop == "" {
		stop = "max rounds reached"
	}

	s.setState(StateDone)
	fmt.Fprintf(s.w, "expansion complete: %s (%d papers)\n", stop, s.graph.PaperCount())
	return s.graph.Snapshot(false), nil
}

// seedRound searches all backends, ingests the results as round 0, and
// scores them. The seed round fails only when every backend call failed.
func (s *Scheduler) seedRound(ctx context.Context, seed types.SeedContext) ([]string, error) {
	s.setState(StateSeeding)

	queries := seed.Queries
	if len(queries) == 0 {
		if strings.TrimSpace(seed.Keywords) == "" {
			return nil, fmt.Errorf("empty seed: provide keywords or queries")
		}
		queries = []string{seed.Keywords}
	}

	out, err := retrieval.SeedSearch(ctx, queries, s.backends, s.w)
	if err != nil {
		return nil, fmt.Errorf("seed search: %w", err)
	}

	round := s.graph.StartRound(nil)
	_, keys := s.ingest(round, out.Records)
	if len(keys) == 0 {
		s.graph.SealRound(round, types.RoundFailed)
		return nil, fmt.Errorf("seed search returned no usable papers")
	}

	if err := s.scoreRound(ctx, seed, keys); err != nil {
		s.graph.SealRound(round, types.RoundFailed)
		return nil, err
	}
	s.graph.SealRound(round, types.RoundSealed)
	fmt.Fprintf(s.w, "seed round: %d papers\n", len(keys))
	return keys, nil
}

// expansionRound expands the frontier's citations and references, ingests
// and scores the discoveries, and classifies newly scorable edges. A
// per-paper retrieval failure degrades the round; the round fails only
// when a majority (strictly more than half) of frontier papers failed.
func (s *Scheduler) expansionRound(ctx context.Context, round int, frontier []string, seed types.SeedContext) ([]string, error) {
	s.setState(StateRetrieving)
	roundNum := s.graph.StartRound(frontier)

	concurrency := s.cfg.Retrieval.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	type fetchResult struct {
		frontierKey string
		citing      []normalize.RawRecord
		cited       []normalize.RawRecord
		err         error
	}

	ch := make(chan fetchResult, len(frontier))
	var wg sync.WaitGroup
	for _, key := range frontier {
		p, ok := s.graph.Paper(key)
		if !ok {
			continue
		}
		id := p.RetrievalID()
		if id == "" {
			fmt.Fprintf(s.w, "warning: no retrieval ID for %s, skipping\n", key)
			ch <- fetchResult{frontierKey: key, err: fmt.Errorf("no retrieval ID")}
			continue
		}

		wg.Add(1)
		go func(key, id string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				ch <- fetchResult{frontierKey: key, err: err}
				return
			}
			defer sem.Release(1)

			res := fetchResult{frontierKey: key}
			res.err = s.policy.Do(ctx, func(ctx context.Context) error {
				if err := s.budget.Spend(); err != nil {
					return err
				}
				var callErr error
				res.citing, callErr = s.citations.Citations(ctx, id)
				return callErr
			})
			if res.err == nil {
				res.err = s.policy.Do(ctx, func(ctx context.Context) error {
					if err := s.budget.Spend(); err != nil {
						return err
					}
					var callErr error
					res.cited, callErr = s.citations.References(ctx, id)
					return callErr
				})
			}
			ch <- res
		}(key, id)
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	var discovered []string
	failed := 0
	attempted := 0
	budgetHit := false
	for res := range ch {
		attempted++
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				s.graph.SealRound(roundNum, types.RoundFailed)
				return nil, res.err
			}
			if errors.Is(res.err, capability.ErrBudgetExhausted) {
				// Graceful stop, not a failure: keep what the round
				// gathered so far.
				budgetHit = true
				continue
			}
			failed++
			fmt.Fprintf(s.w, "warning: expanding %s failed: %v\n", res.frontierKey, res.err)
			continue
		}

		all, fresh := s.ingest(roundNum, res.citing)
		for _, key := range all {
			if key != res.frontierKey {
				s.graph.UpsertEdge(types.Edge{
					FromKey: key, ToKey: res.frontierKey,
					Direction: types.DirectionCites, DiscoveredRound: round,
				})
			}
		}
		discovered = append(discovered, fresh...)

		all, fresh = s.ingest(roundNum, res.cited)
		for _, key := range all {
			if key != res.frontierKey {
				s.graph.UpsertEdge(types.Edge{
					FromKey: res.frontierKey, ToKey: key,
					Direction: types.DirectionCites, DiscoveredRound: round,
				})
			}
		}
		discovered = append(discovered, fresh...)
	}
	if budgetHit {
		fmt.Fprintf(s.w, "call budget exhausted during round %d\n", round)
	}

	if attempted > 0 && failed*2 > attempted {
		s.graph.SealRound(roundNum, types.RoundFailed)
		return nil, fmt.Errorf("round %d: %d of %d frontier papers failed to expand", round, failed, attempted)
	}

	if err := s.scoreRound(ctx, seed, discovered); err != nil {
		s.graph.SealRound(roundNum, types.RoundFailed)
		return nil, err
	}

	s.classifyEdges(ctx)

	s.graph.SealRound(roundNum, types.RoundSealed)
	fmt.Fprintf(s.w, "round %d: %d new papers from %d frontier papers\n", round, len(discovered), attempted)
	return discovered, nil
}

// ingest normalizes raw records into the graph, applying the year and
// citation-count filters and the session discovery cap. Returns every
// ingested key (merged papers included, for edge recording) and the keys
// that were new in this round.
func (s *Scheduler) ingest(round int, records []normalize.RawRecord) (all, fresh []string) {
	maxDiscovered := s.cfg.Expansion.MaxDiscovered
	if maxDiscovered <= 0 {
		maxDiscovered = 200
	}

	for _, rec := range records {
		p, err := normalize.Normalize(rec)
		if err != nil {
			fmt.Fprintf(s.w, "warning: dropping record: %v\n", err)
			continue
		}
		if s.cfg.Retrieval.YearFrom > 0 && p.Year > 0 && p.Year < s.cfg.Retrieval.YearFrom {
			continue
		}
		if p.CitationCount < s.cfg.Retrieval.MinCitationCount {
			continue
		}

		s.mu.Lock()
		atCap := s.discovered >= maxDiscovered
		s.mu.Unlock()
		if atCap {
			// Existing papers still merge; only new discoveries stop.
			if _, ok := s.graph.Paper(p.Key); !ok {
				continue
			}
		}

		key, isNew := s.graph.UpsertPaper(p, round)
		all = append(all, key)
		if isNew {
			s.mu.Lock()
			s.discovered++
			s.mu.Unlock()
			s.graph.RecordDiscovered(round, key)
			fresh = append(fresh, key)
		}
	}
	return all, fresh
}

// scoreRound scores the given papers concurrently. A permanent scoring
// failure marks the paper and moves on; budget exhaustion stops scoring
// but not the session.
func (s *Scheduler) scoreRound(ctx context.Context, seed types.SeedContext, keys []string) error {
	s.setState(StateScoring)
	if len(keys) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(keys))
	for _, key := range keys {
		p, ok := s.graph.Paper(key)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(key string, p types.Paper) {
			defer wg.Done()
			rec, err := s.scorer.Score(ctx, seed, p)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					errCh <- err
					return
				}
				if errors.Is(err, capability.ErrBudgetExhausted) {
					return
				}
				fmt.Fprintf(s.w, "warning: scoring %s failed: %v\n", key, err)
				s.graph.MarkScoringFailed(key, err.Error())
				return
			}
			s.graph.AttachScore(key, rec)
		}(key, p)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// classifyEdges labels citation edges whose endpoints are both scored,
// up to the per-round cap. Classification is best-effort: failures warn
// and the edge stays unclassified.
func (s *Scheduler) classifyEdges(ctx context.Context) {
	max := s.cfg.Expansion.MaxRelationships
	if max <= 0 {
		max = 50
	}

	edges := s.graph.UnclassifiedScoredEdges()
	if len(edges) > max {
		edges = edges[:max]
	}

	for _, e := range edges {
		from, okF := s.graph.Paper(e.FromKey)
		to, okT := s.graph.Paper(e.ToKey)
		if !okF || !okT {
			continue
		}
		rec, err := s.scorer.Classify(ctx, from, to)
		if err != nil {
			if errors.Is(err, capability.ErrBudgetExhausted) || errors.Is(err, context.Canceled) {
				return
			}
			fmt.Fprintf(s.w, "warning: classifying %s -> %s failed: %v\n", e.FromKey, e.ToKey, err)
			continue
		}
		s.graph.AttachRelationship(rec)
	}
}

// decide selects the next frontier from this round's discoveries: scored
// papers at or above the priority threshold, ordered by priority, then
// citation count, then discovery time, then key. Returns the frontier and
// a stop reason when the session should end.
func (s *Scheduler) decide(candidates []string, round int) ([]string, string) {
	s.setState(StateDeciding)

	if s.budget.Exhausted() {
		return nil, "call budget exhausted"
	}
	if len(candidates) == 0 && round > 0 {
		return nil, "no new papers discovered"
	}

	threshold := s.cfg.Expansion.PriorityThreshold
	if threshold <= 0 {
		threshold = 4
	}

	var papers []types.Paper
	for _, key := range candidates {
		p, ok := s.graph.Paper(key)
		if !ok || p.Score == nil {
			continue
		}
		if p.Score.Priority >= threshold {
			papers = append(papers, p)
		}
	}

	if len(papers) == 0 {
		if round == 0 {
			return nil, "no seed papers reached the priority threshold"
		}
		return nil, "no discovered papers reached the priority threshold"
	}

	sort.Slice(papers, func(i, j int) bool {
		a, b := papers[i], papers[j]
		if a.Score.Priority != b.Score.Priority {
			return a.Score.Priority > b.Score.Priority
		}
		if a.CitationCount != b.CitationCount {
			return a.CitationCount > b.CitationCount
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.Key < b.Key
	})

	frontier := make([]string, len(papers))
	for i, p := range papers {
		frontier[i] = p.Key
	}
	return frontier, ""
}
