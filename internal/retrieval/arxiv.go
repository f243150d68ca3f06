// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/internal/normalize"
	"github.com/Annh770/Blatt/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivBackend queries the arXiv API. Search-only: arXiv has no citation
// endpoint, so citation following goes through Semantic Scholar.
type ArxivBackend struct {
	Client *http.Client

	userAgent      string
	maxSeedResults int
}

// NewArxivBackend builds a backend from config.
func NewArxivBackend(cfg types.RetrievalConfig) *ArxivBackend {
	return &ArxivBackend{
		Client:         newHTTPClient(cfg),
		userAgent:      cfg.UserAgent,
		maxSeedResults: cfg.MaxSeedResults,
	}
}

// Name returns the backend identifier.
func (b *ArxivBackend) Name() string { return string(types.SourceArxiv) }

// Search queries the arXiv API and returns raw Atom entries.
func (b *ArxivBackend) Search(ctx context.Context, query string) ([]normalize.RawRecord, error) {
	const op = "arxiv search"
	if query == "" {
		return nil, capability.Permanent(op, fmt.Errorf("empty query"))
	}

	maxResults := b.maxSeedResults
	if maxResults <= 0 {
		maxResults = 20
	}

	searchQuery := "all:" + strings.Join(strings.Fields(query), "+")
	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, searchQuery, maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, capability.Permanent(op, err)
	}
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, capability.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, capability.FromStatus(op, resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, capability.Permanent(op, fmt.Errorf("parsing response: %w", err))
	}

	var records []normalize.RawRecord
	for _, entry := range feed.Entries {
		if strings.TrimSpace(entry.Title) == "" {
			continue
		}
		rec := entry
		records = append(records, normalize.RawRecord{
			Source: types.SourceArxiv,
			Arxiv:  &rec,
		})
	}
	return records, nil
}

type arxivFeed struct {
	Entries []normalize.ArxivEntry `xml:"entry"`
}
