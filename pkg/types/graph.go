// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Direction is the orientation of a citation edge.
type Direction string

const (
	// DirectionCites means the From paper cites the To paper.
	DirectionCites Direction = "cites"
	// DirectionCitedBy means the From paper is cited by the To paper.
	DirectionCitedBy Direction = "is-cited-by"
)

// Edge is one citation relation between two papers in the graph. Edges are
// deduplicated on (FromKey, ToKey, Direction); self-edges are rejected.
type Edge struct {
	FromKey   string    `json:"from_key" yaml:"from_key"`
	ToKey     string    `json:"to_key" yaml:"to_key"`
	Direction Direction `json:"direction" yaml:"direction"`

	// DiscoveredRound is the expansion round that first recorded the edge.
	DiscoveredRound int `json:"discovered_round" yaml:"discovered_round"`
}

// ScoreRecord is one relevance score produced by the scoring capability
// for a paper within a specific seed context.
type ScoreRecord struct {
	PaperKey string `json:"paper_key" yaml:"paper_key"`

	// Priority is the 1-5 relevance score; 5 is most relevant.
	Priority int `json:"priority" yaml:"priority"`

	// Rationale is the capability's explanation for the priority.
	Rationale string `json:"rationale" yaml:"rationale"`

	// MatchedKeywords lists the seed concepts the capability found in the
	// paper, relating the score back to the originating seed.
	MatchedKeywords []string `json:"matched_keywords,omitempty" yaml:"matched_keywords,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// CacheKey is hash(paper key + scoring context version); at most one
	// ScoreRecord exists per cache key.
	CacheKey string `json:"cache_key" yaml:"cache_key"`
}

// RelationshipType classifies how a citing paper relates to the cited one.
type RelationshipType string

const (
	RelImprovesOn RelationshipType = "improves-on"
	RelBuildsOn   RelationshipType = "builds-on"
	RelComparesTo RelationshipType = "compares-to"
	RelUnrelated  RelationshipType = "unrelated"
	RelUnknown    RelationshipType = "unknown"
)

// ValidRelationshipTypes lists every accepted RelationshipType.
var ValidRelationshipTypes = []RelationshipType{
	RelImprovesOn, RelBuildsOn, RelComparesTo, RelUnrelated, RelUnknown,
}

// RelationshipRecord is a classified relationship attached to an edge.
// Produced lazily, only for edges whose endpoints have both been scored.
type RelationshipRecord struct {
	FromKey    string           `json:"from_key" yaml:"from_key"`
	ToKey      string           `json:"to_key" yaml:"to_key"`
	Type       RelationshipType `json:"relationship_type" yaml:"relationship_type"`
	Confidence float64          `json:"confidence" yaml:"confidence"`
}

// RoundStatus is the lifecycle state of one expansion round.
type RoundStatus string

const (
	RoundRunning RoundStatus = "running"
	RoundSealed  RoundStatus = "sealed"
	RoundFailed  RoundStatus = "failed"
)

// ExpansionRound records one retrieval+scoring cycle. Rounds are append-only
// and never mutated after sealing. Round 0 is the seed round.
type ExpansionRound struct {
	Number int `json:"number" yaml:"number"`

	// Frontier is the set of paper keys whose citations were expanded.
	Frontier []string `json:"frontier" yaml:"frontier"`

	// Discovered is the set of paper keys first ingested in this round.
	Discovered []string `json:"discovered" yaml:"discovered"`

	StartedAt   time.Time   `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      RoundStatus `json:"status" yaml:"status"`
}

// SeedContext holds what the researcher asked for. It defines the scoring
// context: changing it invalidates cached scores.
type SeedContext struct {
	// Keywords are the comma-separated core search terms.
	Keywords string `json:"keywords" yaml:"keywords"`

	// Description optionally narrows the research intent.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Queries are the search strings sent to the retrieval backends in the
	// seed round. Empty means derive a single query from Keywords.
	Queries []string `json:"queries,omitempty" yaml:"queries,omitempty"`
}

// GraphSnapshot is a read-only copy of one session's accumulated graph.
// It is the unit of persistence and the input to result assembly.
type GraphSnapshot struct {
	SessionID string      `json:"session_id" yaml:"session_id"`
	Seed      SeedContext `json:"seed" yaml:"seed"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`

	Papers        []Paper              `json:"papers" yaml:"papers"`
	Edges         []Edge               `json:"edges" yaml:"edges"`
	Relationships []RelationshipRecord `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Rounds        []ExpansionRound     `json:"rounds" yaml:"rounds"`

	// Partial marks sessions that ended in cancellation or failure; the
	// accumulated graph is preserved either way.
	Partial bool `json:"partial" yaml:"partial"`
}
