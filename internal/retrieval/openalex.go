// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/internal/normalize"
	"github.com/Annh770/Blatt/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlexBackend queries the OpenAlex API. Search-only: OpenAlex widens
// seed coverage but citation following goes through Semantic Scholar.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email string

	userAgent      string
	maxSeedResults int
	yearFrom       int
}

// NewOpenAlexBackend builds a backend from config.
func NewOpenAlexBackend(cfg types.RetrievalConfig) *OpenAlexBackend {
	return &OpenAlexBackend{
		Client:         newHTTPClient(cfg),
		Email:          cfg.OpenAlexEmail,
		userAgent:      cfg.UserAgent,
		maxSeedResults: cfg.MaxSeedResults,
		yearFrom:       cfg.YearFrom,
	}
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return string(types.SourceOpenAlex) }

// Search queries the OpenAlex API and returns raw work records.
func (b *OpenAlexBackend) Search(ctx context.Context, query string) ([]normalize.RawRecord, error) {
	const op = "openalex search"
	if query == "" {
		return nil, capability.Permanent(op, fmt.Errorf("empty query"))
	}

	maxResults := b.maxSeedResults
	if maxResults <= 0 {
		maxResults = 20
	}
	if maxResults > 200 {
		maxResults = 200
	}

	params := url.Values{
		"search":   {query},
		"per_page": {fmt.Sprintf("%d", maxResults)},
		"page":     {"1"},
	}
	if b.yearFrom > 0 {
		params.Set("filter", fmt.Sprintf("from_publication_date:%d-01-01", b.yearFrom))
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	reqURL := openAlexSearchBase + "?" + params.Encode()
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

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, capability.Permanent(op, fmt.Errorf("parsing response: %w", err))
	}

	var records []normalize.RawRecord
	for _, work := range oar.Results {
		if work.Title == "" {
			continue
		}
		rec := work
		records = append(records, normalize.RawRecord{
			Source:   types.SourceOpenAlex,
			OpenAlex: &rec,
		})
	}
	return records, nil
}

type openAlexResponse struct {
	Meta    openAlexMeta             `json:"meta"`
	Results []normalize.OpenAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}
