// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieval queries academic APIs for seed papers and citation
// links, returning raw records for normalization downstream.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Annh770/Blatt/internal/normalize"
	"github.com/Annh770/Blatt/pkg/types"
)

// SearchBackend searches a single academic API. Each backend (Semantic
// Scholar, OpenAlex, arXiv) implements this interface per the Strategy
// pattern.
type SearchBackend interface {
	Name() string
	Search(ctx context.Context, query string) ([]normalize.RawRecord, error)
}

// CitationClient follows citation links for a known paper. Only Semantic
// Scholar exposes a citation graph; the other backends are search-only.
type CitationClient interface {
	// Citations returns papers that cite the given paper.
	Citations(ctx context.Context, paperID string) ([]normalize.RawRecord, error)
	// References returns papers the given paper cites.
	References(ctx context.Context, paperID string) ([]normalize.RawRecord, error)
}

// SeedOutput holds the raw records gathered in the seed round plus any
// per-backend failures.
type SeedOutput struct {
	Records       []normalize.RawRecord
	BackendErrors []string
}

// SeedSearch fans queries out to all backends concurrently and collects
// the raw records. A failing backend degrades the seed set with a warning
// instead of failing the search; the whole seed round fails only when
// every backend call failed.
func SeedSearch(ctx context.Context, queries []string, backends []SearchBackend, w io.Writer) (SeedOutput, error) {
	if len(queries) == 0 {
		return SeedOutput{}, fmt.Errorf("no seed queries: provide keywords or explicit queries")
	}
	if len(backends) == 0 {
		return SeedOutput{}, fmt.Errorf("no search backends configured")
	}

	type backendResult struct {
		records []normalize.RawRecord
		err     error
		name    string
	}

	ch := make(chan backendResult, len(queries)*len(backends))
	var wg sync.WaitGroup

	for _, query := range queries {
		for _, b := range backends {
			wg.Add(1)
			go func(b SearchBackend, query string) {
				defer wg.Done()
				records, err := b.Search(ctx, query)
				ch <- backendResult{records: records, err: err, name: b.Name()}
			}(b, query)
		}
	}

	go func() {
		wg.Wait()
		close(ch)
	}()

	var out SeedOutput
	calls := 0
	for br := range ch {
		calls++
		if br.err != nil {
			out.BackendErrors = append(out.BackendErrors, fmt.Sprintf("%s: %v", br.name, br.err))
			fmt.Fprintf(w, "warning: backend %s failed: %v\n", br.name, br.err)
			continue
		}
		out.Records = append(out.Records, br.records...)
	}

	if len(out.BackendErrors) == calls {
		return out, fmt.Errorf("all %d backend calls failed", calls)
	}
	return out, nil
}

// newHTTPClient builds the shared HTTP client for retrieval backends.
func newHTTPClient(cfg types.RetrievalConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
