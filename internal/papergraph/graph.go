// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package papergraph holds one session's accumulated citation graph: papers
// keyed by canonical identity, citation edges, classified relationships,
// and the append-only round log. All operations are safe for concurrent use.
package papergraph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Annh770/Blatt/pkg/types"
)

type edgeKey struct {
	from, to  string
	direction types.Direction
}

type relKey struct {
	from, to string
}

// paperEntry pairs a paper with its own lock. Field mutations (merges,
// score attachment) take only the entry lock, so writers on different
// papers never block each other.
type paperEntry struct {
	mu sync.Mutex
	p  types.Paper
}

// snapshot returns a consistent deep copy of the entry's paper.
func (e *paperEntry) snapshot() types.Paper {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyPaper(&e.p)
}

func (e *paperEntry) scored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Score != nil
}

// Store is the in-memory graph for one expansion session. Upserts are
// idempotent: re-ingesting a paper or edge never creates a duplicate.
//
// The global lock guards map membership and the insertion-order slices;
// each paper's fields are guarded by its entry lock. Lock order is always
// global before entry, never the reverse.
type Store struct {
	sessionID string
	seed      types.SeedContext
	createdAt time.Time

	mu            sync.RWMutex
	papers        map[string]*paperEntry
	order         []string // insertion order of paper keys
	edges         map[edgeKey]*types.Edge
	edgeOrder     []edgeKey
	adjacency     map[string]map[types.Direction][]string
	relationships map[relKey]*types.RelationshipRecord
	relOrder      []relKey
	rounds        []types.ExpansionRound
}

// New creates an empty graph for the given session.
func New(sessionID string, seed types.SeedContext) *Store {
	return &Store{
		sessionID:     sessionID,
		seed:          seed,
		createdAt:     time.Now().UTC(),
		papers:        map[string]*paperEntry{},
		edges:         map[edgeKey]*types.Edge{},
		adjacency:     map[string]map[types.Direction][]string{},
		relationships: map[relKey]*types.RelationshipRecord{},
	}
}

// SessionID returns the session this graph belongs to.
func (s *Store) SessionID() string { return s.sessionID }

// UpsertPaper inserts the paper or merges it into the existing instance
// with the same key. Merging unions source IDs, fills empty fields, and
// lets the fresher record (strictly larger citation count) win contested
// fields. Returns the canonical key and whether the paper was new.
//
// The global lock is held only for the membership check; merges run under
// the entry's own lock so concurrent upserts of unrelated papers proceed
// in parallel while same-key merges stay serialized.
func (s *Store) UpsertPaper(p types.Paper, round int) (string, bool) {
	if p.Key == "" {
		return "", false
	}

	s.mu.Lock()
	existing, ok := s.papers[p.Key]
	if !ok {
		cp := p
		cp.DiscoveredRound = round
		if cp.DiscoveredAt.IsZero() {
			cp.DiscoveredAt = time.Now().UTC()
		}
		if cp.SourceIDs == nil {
			cp.SourceIDs = map[types.Source]string{}
		}
		s.papers[p.Key] = &paperEntry{p: cp}
		s.order = append(s.order, p.Key)
		s.mu.Unlock()
		return p.Key, true
	}
	s.mu.Unlock()

	existing.mu.Lock()
	mergePaper(&existing.p, p)
	existing.mu.Unlock()
	return p.Key, false
}

// mergePaper folds incoming into dst. DiscoveredRound and DiscoveredAt keep
// their original values: a re-discovered paper is not new.
func mergePaper(dst *types.Paper, incoming types.Paper) {
	fresher := incoming.CitationCount > dst.CitationCount

	for src, id := range incoming.SourceIDs {
		if id != "" {
			if _, ok := dst.SourceIDs[src]; !ok {
				dst.SourceIDs[src] = id
			}
		}
	}

	if dst.Title == "" {
		dst.Title = incoming.Title
	}
	if len(dst.Authors) == 0 {
		dst.Authors = incoming.Authors
	}
	if dst.DOI == "" {
		dst.DOI = incoming.DOI
	}
	if dst.ArxivID == "" {
		dst.ArxivID = incoming.ArxivID
	}
	if dst.URL == "" {
		dst.URL = incoming.URL
	}
	if dst.Year == 0 {
		dst.Year = incoming.Year
	}

	if dst.Abstract == "" || (fresher && incoming.Abstract != "") {
		dst.Abstract = incoming.Abstract
	}
	if dst.Venue == "" || (fresher && incoming.Venue != "") {
		dst.Venue = incoming.Venue
	}
	if incoming.CitationCount > dst.CitationCount {
		dst.CitationCount = incoming.CitationCount
	}
}

// UpsertEdge records a citation edge. Self-edges are rejected; duplicate
// (from, to, direction) triples are absorbed silently.
func (s *Store) UpsertEdge(e types.Edge) error {
	if e.FromKey == "" || e.ToKey == "" {
		return fmt.Errorf("edge endpoints must be non-empty")
	}
	if e.FromKey == e.ToKey {
		return fmt.Errorf("self-edge rejected for %s", e.FromKey)
	}

	k := edgeKey{from: e.FromKey, to: e.ToKey, direction: e.Direction}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[k]; ok {
		return nil
	}
	cp := e
	s.edges[k] = &cp
	s.edgeOrder = append(s.edgeOrder, k)

	byDir, ok := s.adjacency[e.FromKey]
	if !ok {
		byDir = map[types.Direction][]string{}
		s.adjacency[e.FromKey] = byDir
	}
	byDir[e.Direction] = append(byDir[e.Direction], e.ToKey)
	return nil
}

// AttachScore stores the score for a paper and clears any failure marker.
func (s *Store) AttachScore(key string, rec types.ScoreRecord) error {
	s.mu.RLock()
	e, ok := s.papers[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no paper with key %s", key)
	}
	cp := rec
	cp.PaperKey = key

	e.mu.Lock()
	e.p.Score = &cp
	e.p.ScoringFailed = ""
	e.mu.Unlock()
	return nil
}

// MarkScoringFailed records a permanent scoring failure. The paper stays
// in the graph but never passes priority filtering.
func (s *Store) MarkScoringFailed(key, reason string) error {
	s.mu.RLock()
	e, ok := s.papers[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no paper with key %s", key)
	}
	if reason == "" {
		reason = "scoring failed"
	}

	e.mu.Lock()
	e.p.ScoringFailed = reason
	e.mu.Unlock()
	return nil
}

// AttachRelationship stores the classified relationship for an edge pair.
// Re-classification overwrites the previous record.
func (s *Store) AttachRelationship(rec types.RelationshipRecord) error {
	if rec.FromKey == "" || rec.ToKey == "" {
		return fmt.Errorf("relationship endpoints must be non-empty")
	}
	k := relKey{from: rec.FromKey, to: rec.ToKey}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[k]; !ok {
		s.relOrder = append(s.relOrder, k)
	}
	cp := rec
	s.relationships[k] = &cp
	return nil
}

// Paper returns a copy of the paper with the given key.
func (s *Store) Paper(key string) (types.Paper, bool) {
	s.mu.RLock()
	e, ok := s.papers[key]
	s.mu.RUnlock()
	if !ok {
		return types.Paper{}, false
	}
	return e.snapshot(), true
}

// Papers returns copies of all papers in insertion order.
func (s *Store) Papers() []types.Paper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Paper, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.papers[key].snapshot())
	}
	return out
}

// PaperCount returns the number of distinct papers in the graph.
func (s *Store) PaperCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.papers)
}

// Neighbors returns the keys reachable from key along edges of the given
// direction, sorted for determinism. Reads the adjacency index maintained
// by UpsertEdge, so the cost scales with the node's degree.
func (s *Store) Neighbors(key string, direction types.Direction) []string {
	s.mu.RLock()
	adj := s.adjacency[key][direction]
	out := append([]string(nil), adj...)
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// UnclassifiedScoredEdges returns "cites" edge pairs whose endpoints have
// both been scored but carry no relationship yet, in insertion order.
func (s *Store) UnclassifiedScoredEdges() []types.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Edge
	for _, ek := range s.edgeOrder {
		if ek.direction != types.DirectionCites {
			continue
		}
		if _, ok := s.relationships[relKey{from: ek.from, to: ek.to}]; ok {
			continue
		}
		from, to := s.papers[ek.from], s.papers[ek.to]
		if from == nil || to == nil || !from.scored() || !to.scored() {
			continue
		}
		out = append(out, *s.edges[ek])
	}
	return out
}

// StartRound appends a new running round and returns its number.
func (s *Store) StartRound(frontier []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rounds)
	s.rounds = append(s.rounds, types.ExpansionRound{
		Number:    n,
		Frontier:  append([]string(nil), frontier...),
		StartedAt: time.Now().UTC(),
		Status:    types.RoundRunning,
	})
	return n
}

// RecordDiscovered appends a paper key to the round's discovered set.
func (s *Store) RecordDiscovered(round int, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if round < 0 || round >= len(s.rounds) {
		return
	}
	s.rounds[round].Discovered = append(s.rounds[round].Discovered, key)
}

// SealRound closes a round with the given terminal status. Sealed rounds
// are never mutated again.
func (s *Store) SealRound(round int, status types.RoundStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if round < 0 || round >= len(s.rounds) {
		return
	}
	r := &s.rounds[round]
	if r.Status != types.RoundRunning {
		return
	}
	r.Status = status
	r.CompletedAt = time.Now().UTC()
}

// Snapshot returns a deep copy of the whole graph, suitable for export and
// persistence. Concurrent writers never mutate the returned value.
func (s *Store) Snapshot(partial bool) types.GraphSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := types.GraphSnapshot{
		SessionID: s.sessionID,
		Seed:      s.seed,
		CreatedAt: s.createdAt,
		Partial:   partial,
	}

	snap.Papers = make([]types.Paper, 0, len(s.order))
	for _, key := range s.order {
		snap.Papers = append(snap.Papers, s.papers[key].snapshot())
	}

	snap.Edges = make([]types.Edge, 0, len(s.edgeOrder))
	for _, ek := range s.edgeOrder {
		snap.Edges = append(snap.Edges, *s.edges[ek])
	}

	snap.Relationships = make([]types.RelationshipRecord, 0, len(s.relOrder))
	for _, rk := range s.relOrder {
		snap.Relationships = append(snap.Relationships, *s.relationships[rk])
	}

	snap.Rounds = make([]types.ExpansionRound, len(s.rounds))
	for i, r := range s.rounds {
		cp := r
		cp.Frontier = append([]string(nil), r.Frontier...)
		cp.Discovered = append([]string(nil), r.Discovered...)
		snap.Rounds[i] = cp
	}
	return snap
}

func copyPaper(p *types.Paper) types.Paper {
	cp := *p
	cp.Authors = append([]string(nil), p.Authors...)
	cp.SourceIDs = make(map[types.Source]string, len(p.SourceIDs))
	for k, v := range p.SourceIDs {
		cp.SourceIDs[k] = v
	}
	if p.Score != nil {
		sc := *p.Score
		sc.MatchedKeywords = append([]string(nil), p.Score.MatchedKeywords...)
		cp.Score = &sc
	}
	return cp
}
