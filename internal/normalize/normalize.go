// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package normalize canonicalizes heterogeneous retrieval records into the
// shared Paper shape and derives the dedup identity for each.
package normalize

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Annh770/Blatt/pkg/types"
)

// RawRecord is a tagged union of source-specific record variants. Exactly
// one variant field is set, matching the Source tag; Normalize dispatches
// on the tag rather than probing fields.
type RawRecord struct {
	Source types.Source

	SemanticScholar *S2Record
	OpenAlex        *OpenAlexWork
	Arxiv           *ArxivEntry
}

// S2Record mirrors the Semantic Scholar paper JSON shape.
type S2Record struct {
	PaperID         string     `json:"paperId"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract"`
	Year            int        `json:"year"`
	CitationCount   int        `json:"citationCount"`
	Venue           string     `json:"venue"`
	URL             string     `json:"url"`
	Authors         []S2Author `json:"authors"`
	ExternalIDs     S2ExternalIDs `json:"externalIds"`
}

// S2Author is one author entry in a Semantic Scholar record.
type S2Author struct {
	Name string `json:"name"`
}

// S2ExternalIDs carries the cross-source identifiers Semantic Scholar knows.
type S2ExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}

// OpenAlexWork mirrors the OpenAlex Works JSON shape.
type OpenAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []OpenAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       OpenAlexLocation     `json:"primary_location"`
}

// OpenAlexAuthorship wraps one author entry in an OpenAlex work.
type OpenAlexAuthorship struct {
	Author OpenAlexAuthor `json:"author"`
}

// OpenAlexAuthor is the author object inside an authorship.
type OpenAlexAuthor struct {
	DisplayName string `json:"display_name"`
}

// OpenAlexLocation carries the hosting venue of an OpenAlex work.
type OpenAlexLocation struct {
	Source OpenAlexVenue `json:"source"`
}

// OpenAlexVenue is the venue object inside a location.
type OpenAlexVenue struct {
	DisplayName string `json:"display_name"`
}

// ArxivEntry mirrors one entry of the arXiv Atom feed.
type ArxivEntry struct {
	ID        string   `xml:"id"`
	Title     string   `xml:"title"`
	Summary   string   `xml:"summary"`
	Published string   `xml:"published"`
	Authors   []ArxivAuthor `xml:"author"`
}

// ArxivAuthor is one author element in an arXiv Atom entry.
type ArxivAuthor struct {
	Name string `xml:"name"`
}

// Normalize converts a raw record into the canonical Paper shape and
// derives its dedup key. It is a pure function: no graph access, no I/O.
// Records with no title and no external identifier are rejected.
func Normalize(rec RawRecord) (types.Paper, error) {
	var p types.Paper

	switch rec.Source {
	case types.SourceSemanticScholar:
		if rec.SemanticScholar == nil {
			return p, fmt.Errorf("semantic scholar record missing payload")
		}
		p = fromSemanticScholar(rec.SemanticScholar)
	case types.SourceOpenAlex:
		if rec.OpenAlex == nil {
			return p, fmt.Errorf("openalex record missing payload")
		}
		p = fromOpenAlex(rec.OpenAlex)
	case types.SourceArxiv:
		if rec.Arxiv == nil {
			return p, fmt.Errorf("arxiv record missing payload")
		}
		p = fromArxiv(rec.Arxiv)
	default:
		return p, fmt.Errorf("unknown record source %q", rec.Source)
	}

	key, err := CanonicalKey(p)
	if err != nil {
		return types.Paper{}, err
	}
	p.Key = key
	return p, nil
}

func fromSemanticScholar(r *S2Record) types.Paper {
	p := types.Paper{
		Title:         strings.TrimSpace(r.Title),
		Abstract:      r.Abstract,
		Year:          r.Year,
		Venue:         r.Venue,
		CitationCount: r.CitationCount,
		URL:           r.URL,
		DOI:           NormalizeDOI(r.ExternalIDs.DOI),
		ArxivID:       StripArxivVersion(r.ExternalIDs.ArXiv),
		SourceIDs:     map[types.Source]string{},
	}
	if r.PaperID != "" {
		p.SourceIDs[types.SourceSemanticScholar] = r.PaperID
	}
	for _, a := range r.Authors {
		if a.Name != "" {
			p.Authors = append(p.Authors, a.Name)
		}
	}
	return p
}

func fromOpenAlex(w *OpenAlexWork) types.Paper {
	p := types.Paper{
		Title:         strings.TrimSpace(w.Title),
		Abstract:      ReconstructAbstract(w.AbstractInvertedIndex),
		Year:          w.PublicationYear,
		Venue:         w.PrimaryLocation.Source.DisplayName,
		CitationCount: w.CitedByCount,
		DOI:           NormalizeDOI(w.DOI),
		SourceIDs:     map[types.Source]string{},
	}
	if w.ID != "" {
		p.SourceIDs[types.SourceOpenAlex] = w.ID
	}
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			p.Authors = append(p.Authors, a.Author.DisplayName)
		}
	}
	return p
}

func fromArxiv(e *ArxivEntry) types.Paper {
	p := types.Paper{
		Title:    strings.TrimSpace(e.Title),
		Abstract: strings.TrimSpace(e.Summary),
		Venue:    "arXiv",
		ArxivID:  ExtractArxivID(e.ID),
		URL:      e.ID,
		SourceIDs: map[types.Source]string{},
	}
	if p.ArxivID != "" {
		p.SourceIDs[types.SourceArxiv] = p.ArxivID
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
		p.Year = t.Year()
	}
	return p
}

// CanonicalKey derives the dedup identity for a paper. Strongest identifier
// wins: DOI, then arXiv ID, then a hash of normalized title + first author
// surname + year. Two records of the same paper from different sources
// derive the same key.
func CanonicalKey(p types.Paper) (string, error) {
	if doi := NormalizeDOI(p.DOI); doi != "" {
		return "doi:" + doi, nil
	}
	if id := StripArxivVersion(p.ArxivID); id != "" {
		return "arxiv:" + id, nil
	}
	title := NormalizeTitle(p.Title)
	if title == "" {
		return "", fmt.Errorf("record has no DOI, arXiv ID, or title to derive a key from")
	}

	// Title-hash fallback. Distinct papers sharing normalized title, first
	// author surname, and year will collide; accepted, not disambiguated.
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(firstAuthorSurname(p.Authors)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(p.Year)))
	return "title:" + fmt.Sprintf("%x", h.Sum(nil))[:16], nil
}

// NormalizeDOI lower-cases a DOI and strips URL and scheme prefixes, so
// "https://doi.org/10.1109/X" and "10.1109/x" derive the same key.
func NormalizeDOI(doi string) string {
	d := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		d = strings.TrimPrefix(d, prefix)
	}
	return d
}

// StripArxivVersion removes a trailing version suffix (e.g. "2301.07041v2"
// becomes "2301.07041").
func StripArxivVersion(id string) string {
	id = strings.TrimSpace(id)
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			return id[:vIdx]
		}
	}
	return id
}

// ExtractArxivID pulls the arXiv ID from an entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041").
func ExtractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	return StripArxivVersion(idURL[idx+len(prefix):])
}

// NormalizeTitle returns a lowercased, punctuation-stripped,
// whitespace-collapsed version of the title.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// firstAuthorSurname returns the lowercased last token of the first author
// name, or "" when authors are unknown.
func firstAuthorSurname(authors []string) string {
	if len(authors) == 0 {
		return ""
	}
	fields := strings.Fields(strings.ToLower(authors[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// ReconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func ReconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}
