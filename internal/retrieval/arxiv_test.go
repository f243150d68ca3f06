// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/pkg/types"
)

const arxivTestFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2301.07041v1</id>
    <title>A Survey of Large Language Models</title>
    <summary>We survey LLMs.</summary>
    <published>2023-01-17T12:00:00Z</published>
    <author><name>Wayne Zhao</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2301.09999v1</id>
    <title>  </title>
  </entry>
</feed>`

func TestArxiv_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "search_query=all:large+language+models")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(arxivTestFeed))
	}))
	defer srv.Close()

	old := arxivAPIBase
	arxivAPIBase = srv.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: srv.Client()}
	records, err := b.Search(context.Background(), "large language models")
	require.NoError(t, err)

	// Blank-titled entries are dropped.
	require.Len(t, records, 1)
	assert.Equal(t, types.SourceArxiv, records[0].Source)
	require.NotNil(t, records[0].Arxiv)
	assert.Equal(t, "http://arxiv.org/abs/2301.07041v1", records[0].Arxiv.ID)
}

func TestArxiv_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	old := arxivAPIBase
	arxivAPIBase = srv.URL
	defer func() { arxivAPIBase = old }()

	b := &ArxivBackend{Client: srv.Client()}
	_, err := b.Search(context.Background(), "q")
	assert.True(t, capability.IsTransient(err))
}

func TestArxiv_EmptyQuery(t *testing.T) {
	b := &ArxivBackend{Client: http.DefaultClient}
	_, err := b.Search(context.Background(), "")
	assert.True(t, capability.IsPermanent(err))
}
