// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Source identifies the academic API a record came from.
type Source string

const (
	SourceSemanticScholar Source = "semantic_scholar"
	SourceOpenAlex        Source = "openalex"
	SourceArxiv           Source = "arxiv"
)

// Paper is the canonical, deduplicated representation of one paper in the
// citation graph. Exactly one Paper exists per canonical key; records that
// normalize to the same key are merged into the existing instance.
type Paper struct {
	// Key is the canonical dedup identity (e.g. "doi:10.1109/...",
	// "arxiv:2301.07041", or a title-hash fallback).
	Key string `json:"key" yaml:"key"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// Abstract is the paper abstract, possibly empty.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Year is the publication year, zero if unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Venue is the publication venue or journal.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// CitationCount is the number of papers citing this one, as reported
	// by the richest source seen so far.
	CitationCount int `json:"citation_count" yaml:"citation_count"`

	// DOI is the bare DOI (lower-cased, no URL prefix), if known.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// ArxivID is the version-stripped arXiv identifier, if known.
	ArxivID string `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`

	// URL is a link to the paper landing page.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// SourceIDs maps each source that returned this paper to its
	// source-specific identifier. Merging unions this set.
	SourceIDs map[Source]string `json:"source_ids,omitempty" yaml:"source_ids,omitempty"`

	// DiscoveredRound is the expansion round that first ingested the paper.
	DiscoveredRound int `json:"discovered_round" yaml:"discovered_round"`

	// DiscoveredAt is the ingestion timestamp, used as a frontier tie-break.
	DiscoveredAt time.Time `json:"discovered_at" yaml:"discovered_at"`

	// Score is the relevance score attached for the current session
	// context, nil until the paper has been scored.
	Score *ScoreRecord `json:"score,omitempty" yaml:"score,omitempty"`

	// ScoringFailed records why scoring permanently failed for this paper.
	// Papers with a failure marker stay in the graph but are excluded from
	// priority filtering.
	ScoringFailed string `json:"scoring_failed,omitempty" yaml:"scoring_failed,omitempty"`
}

// RetrievalID returns the identifier to hand to the retrieval capability
// when asking for this paper's citations or references. Semantic Scholar
// accepts its own paper IDs directly and DOI/arXiv IDs with a prefix.
func (p Paper) RetrievalID() string {
	if id, ok := p.SourceIDs[SourceSemanticScholar]; ok && id != "" {
		return id
	}
	if p.DOI != "" {
		return "DOI:" + p.DOI
	}
	if p.ArxivID != "" {
		return "ARXIV:" + p.ArxivID
	}
	return ""
}

// FirstAuthor returns the first author name, or "" when authors are unknown.
func (p Paper) FirstAuthor() string {
	if len(p.Authors) == 0 {
		return ""
	}
	return p.Authors[0]
}
