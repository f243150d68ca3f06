// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export assembles a session's graph snapshot into the scored view
// handed to the researcher, filtered by minimum priority.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"go.yaml.in/yaml/v3"

	"github.com/Annh770/Blatt/pkg/types"
)

// PaperRow is one paper in the export view.
type PaperRow struct {
	Key             string   `json:"key" yaml:"key"`
	Title           string   `json:"title" yaml:"title"`
	Authors         []string `json:"authors" yaml:"authors"`
	Year            int      `json:"year,omitempty" yaml:"year,omitempty"`
	Venue           string   `json:"venue,omitempty" yaml:"venue,omitempty"`
	Priority        int      `json:"priority" yaml:"priority"`
	Rationale       string   `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty" yaml:"matched_keywords,omitempty"`
	CitationCount   int      `json:"citation_count" yaml:"citation_count"`
	DiscoveredRound int      `json:"discovered_round" yaml:"discovered_round"`
	URL             string   `json:"url,omitempty" yaml:"url,omitempty"`
}

// EdgeRow is one citation edge between two included papers.
type EdgeRow struct {
	FromKey string `json:"from_key" yaml:"from_key"`
	ToKey   string `json:"to_key" yaml:"to_key"`
}

// RelationshipRow is one classified relationship between included papers.
type RelationshipRow struct {
	FromKey          string                 `json:"from_key" yaml:"from_key"`
	ToKey            string                 `json:"to_key" yaml:"to_key"`
	RelationshipType types.RelationshipType `json:"relationship_type" yaml:"relationship_type"`
	Confidence       float64                `json:"confidence" yaml:"confidence"`
}

// View is the assembled result of one session.
type View struct {
	SessionID   string `json:"session_id" yaml:"session_id"`
	Keywords    string `json:"keywords" yaml:"keywords"`
	MinPriority int    `json:"min_priority" yaml:"min_priority"`
	Partial     bool   `json:"partial,omitempty" yaml:"partial,omitempty"`

	Papers        []PaperRow        `json:"papers" yaml:"papers"`
	Edges         []EdgeRow         `json:"edges,omitempty" yaml:"edges,omitempty"`
	Relationships []RelationshipRow `json:"relationships,omitempty" yaml:"relationships,omitempty"`

	// PriorityCounts maps each priority (1-5) to the number of scored
	// papers at that priority, over the whole graph before filtering.
	PriorityCounts map[int]int `json:"priority_counts" yaml:"priority_counts"`

	// Excluded counts papers dropped by the filter: unscored, scoring
	// failed, or below the minimum priority.
	Excluded int `json:"excluded" yaml:"excluded"`
}

// Assemble builds the export view from a snapshot. Papers without a score
// (including scoring failures) are excluded; edges and relationships are
// kept only when both endpoints are included. Papers sort by priority
// descending, then citation count, then key.
func Assemble(snap types.GraphSnapshot, minPriority int) View {
	if minPriority <= 0 {
		minPriority = 1
	}

	view := View{
		SessionID:      snap.SessionID,
		Keywords:       snap.Seed.Keywords,
		MinPriority:    minPriority,
		Partial:        snap.Partial,
		PriorityCounts: map[int]int{},
	}

	included := map[string]bool{}
	for _, p := range snap.Papers {
		if p.Score == nil {
			view.Excluded++
			continue
		}
		view.PriorityCounts[p.Score.Priority]++
		if p.Score.Priority < minPriority {
			view.Excluded++
			continue
		}
		included[p.Key] = true
		view.Papers = append(view.Papers, PaperRow{
			Key:             p.Key,
			Title:           p.Title,
			Authors:         p.Authors,
			Year:            p.Year,
			Venue:           p.Venue,
			Priority:        p.Score.Priority,
			Rationale:       p.Score.Rationale,
			MatchedKeywords: p.Score.MatchedKeywords,
			CitationCount:   p.CitationCount,
			DiscoveredRound: p.DiscoveredRound,
			URL:             p.URL,
		})
	}

	sort.Slice(view.Papers, func(i, j int) bool {
		a, b := view.Papers[i], view.Papers[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.CitationCount != b.CitationCount {
			return a.CitationCount > b.CitationCount
		}
		return a.Key < b.Key
	})

	for _, e := range snap.Edges {
		if e.Direction != types.DirectionCites {
			continue
		}
		if included[e.FromKey] && included[e.ToKey] {
			view.Edges = append(view.Edges, EdgeRow{FromKey: e.FromKey, ToKey: e.ToKey})
		}
	}

	for _, r := range snap.Relationships {
		if included[r.FromKey] && included[r.ToKey] {
			view.Relationships = append(view.Relationships, RelationshipRow{
				FromKey:          r.FromKey,
				ToKey:            r.ToKey,
				RelationshipType: r.Type,
				Confidence:       r.Confidence,
			})
		}
	}
	return view
}

// FormatTable writes the view as a human-readable table to w.
func FormatTable(view View, w io.Writer) {
	if len(view.Papers) == 0 {
		fmt.Fprintln(w, "No papers at or above the priority threshold.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-60s  %-20s  %-4s  %-8s  %s\n",
		"Rank", "Title", "Authors", "Year", "Priority", "Citations")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for i, p := range view.Papers {
		title := p.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		year := ""
		if p.Year > 0 {
			year = fmt.Sprintf("%d", p.Year)
		}
		fmt.Fprintf(w, "%-4d  %-60s  %-20s  %-4s  %-8d  %d\n",
			i+1, title, formatAuthors(p.Authors), year, p.Priority, p.CitationCount)
	}

	fmt.Fprintf(w, "\n%d papers at priority >= %d", len(view.Papers), view.MinPriority)
	if view.Excluded > 0 {
		fmt.Fprintf(w, " (%d excluded)", view.Excluded)
	}
	if view.Partial {
		fmt.Fprintf(w, " [partial session]")
	}
	fmt.Fprintln(w)

	if len(view.Relationships) > 0 {
		fmt.Fprintf(w, "\n%d classified relationships\n", len(view.Relationships))
	}
}

// FormatJSON writes the view as indented JSON to w.
func FormatJSON(view View, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

// FormatYAML writes the view as YAML to w.
func FormatYAML(view View, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(view)
}

func formatAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return truncate(authors[0], 20)
	default:
		return truncate(authors[0], 14) + " et al."
	}
}

// truncate cuts s to at most max bytes, ellipsis included, never splitting
// a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
