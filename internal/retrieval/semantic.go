// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/internal/normalize"
	"github.com/Annh770/Blatt/pkg/types"
)

// semanticAPIBase is the Semantic Scholar Graph API root. Declared as a
// var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1"

const semanticFields = "paperId,title,abstract,authors,externalIds,year,citationCount,venue,url"

// SemanticScholarClient queries the Semantic Scholar Graph API. It is the
// only backend that exposes the citation graph, so it implements both
// SearchBackend and CitationClient. A shared rate limiter paces every
// request: the public pool allows well under 1 req/s, an API key 1 req/s.
type SemanticScholarClient struct {
	Client  *http.Client
	APIKey  string
	Limiter *rate.Limiter

	userAgent      string
	maxSeedResults int
	citationLimit  int
	referenceLimit int
}

// NewSemanticScholarClient builds a client from config, deriving the pace
// from RequestsPerSecond.
func NewSemanticScholarClient(cfg types.RetrievalConfig) *SemanticScholarClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		if cfg.SemanticScholarAPIKey != "" {
			rps = 1.0
		} else {
			rps = 0.5
		}
	}
	return &SemanticScholarClient{
		Client:         newHTTPClient(cfg),
		APIKey:         cfg.SemanticScholarAPIKey,
		Limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		userAgent:      cfg.UserAgent,
		maxSeedResults: cfg.MaxSeedResults,
		citationLimit:  cfg.CitationLimit,
		referenceLimit: cfg.ReferenceLimit,
	}
}

// Name returns the backend identifier.
func (c *SemanticScholarClient) Name() string { return string(types.SourceSemanticScholar) }

// Search queries the paper search endpoint.
func (c *SemanticScholarClient) Search(ctx context.Context, query string) ([]normalize.RawRecord, error) {
	if query == "" {
		return nil, capability.Permanent("semantic scholar search", fmt.Errorf("empty query"))
	}

	limit := c.maxSeedResults
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{
		"query":  {query},
		"limit":  {fmt.Sprintf("%d", limit)},
		"fields": {semanticFields},
	}

	var sr semanticSearchResponse
	if err := c.get(ctx, "/paper/search", params, "semantic scholar search", &sr); err != nil {
		return nil, err
	}
	return wrapS2Records(sr.Data), nil
}

// Citations returns papers citing the given paper.
func (c *SemanticScholarClient) Citations(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	if paperID == "" {
		return nil, capability.Permanent("fetch citations", fmt.Errorf("empty paper ID"))
	}

	limit := c.citationLimit
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{
		"limit":  {fmt.Sprintf("%d", limit)},
		"fields": {semanticFields},
	}

	var cr semanticCitationsResponse
	path := "/paper/" + url.PathEscape(paperID) + "/citations"
	if err := c.get(ctx, path, params, "fetch citations", &cr); err != nil {
		return nil, err
	}

	var records []normalize.RawRecord
	for _, entry := range cr.Data {
		if entry.CitingPaper != nil && entry.CitingPaper.Title != "" {
			rec := *entry.CitingPaper
			records = append(records, normalize.RawRecord{
				Source:          types.SourceSemanticScholar,
				SemanticScholar: &rec,
			})
		}
	}
	return records, nil
}

// References returns papers the given paper cites.
func (c *SemanticScholarClient) References(ctx context.Context, paperID string) ([]normalize.RawRecord, error) {
	if paperID == "" {
		return nil, capability.Permanent("fetch references", fmt.Errorf("empty paper ID"))
	}

	limit := c.referenceLimit
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{
		"limit":  {fmt.Sprintf("%d", limit)},
		"fields": {semanticFields},
	}

	var rr semanticReferencesResponse
	path := "/paper/" + url.PathEscape(paperID) + "/references"
	if err := c.get(ctx, path, params, "fetch references", &rr); err != nil {
		return nil, err
	}

	var records []normalize.RawRecord
	for _, entry := range rr.Data {
		if entry.CitedPaper != nil && entry.CitedPaper.Title != "" {
			rec := *entry.CitedPaper
			records = append(records, normalize.RawRecord{
				Source:          types.SourceSemanticScholar,
				SemanticScholar: &rec,
			})
		}
	}
	return records, nil
}

// get performs one rate-limited request and decodes the JSON body into out.
// HTTP failures are classified: 429 and 5xx transient, other non-2xx
// permanent, network errors transient.
func (c *SemanticScholarClient) get(ctx context.Context, path string, params url.Values, op string, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	reqURL := semanticAPIBase + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return capability.Permanent(op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return capability.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capability.FromStatus(op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return capability.Permanent(op, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

func wrapS2Records(papers []normalize.S2Record) []normalize.RawRecord {
	var records []normalize.RawRecord
	for _, p := range papers {
		if p.Title == "" {
			continue
		}
		rec := p
		records = append(records, normalize.RawRecord{
			Source:          types.SourceSemanticScholar,
			SemanticScholar: &rec,
		})
	}
	return records
}

// Semantic Scholar API JSON structures not already covered by the shared
// record shape.
type semanticSearchResponse struct {
	Total  int                  `json:"total"`
	Offset int                  `json:"offset"`
	Data   []normalize.S2Record `json:"data"`
}

type semanticCitationsResponse struct {
	Data []struct {
		CitingPaper *normalize.S2Record `json:"citingPaper"`
	} `json:"data"`
}

type semanticReferencesResponse struct {
	Data []struct {
		CitedPaper *normalize.S2Record `json:"citedPaper"`
	} `json:"data"`
}
