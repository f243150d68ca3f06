package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "blatt/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// RetryConfig parameterizes the shared capability retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per capability call (default 5).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the first backoff delay (default 1s).
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps the backoff delay (default 30s).
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// Jitter randomizes each delay within [delay/2, delay] to avoid
	// synchronized retries.
	Jitter bool `json:"jitter" yaml:"jitter"`
}

// RetrievalConfig holds settings for the retrieval component.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline"`

	// MaxSeedResults caps results per backend per seed query (default 20).
	MaxSeedResults int `json:"max_seed_results" yaml:"max_seed_results"`

	// CitationLimit caps citing papers fetched per frontier paper (default 20).
	CitationLimit int `json:"citation_limit" yaml:"citation_limit"`

	// ReferenceLimit caps references fetched per frontier paper (default 20).
	ReferenceLimit int `json:"reference_limit" yaml:"reference_limit"`

	// MinCitationCount drops discovered papers cited fewer times (default 0).
	MinCitationCount int `json:"min_citation_count" yaml:"min_citation_count"`

	// YearFrom drops discovered papers published before this year (0 = no filter).
	YearFrom int `json:"year_from" yaml:"year_from"`

	// RequestsPerSecond paces Semantic Scholar requests. The public pool
	// allows well under 1 req/s; an API key allows 1 req/s.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// Concurrency bounds in-flight citation/reference fetches per round (default 5).
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// EnableOpenAlex controls whether the OpenAlex seed backend is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex"`

	// EnableArxiv controls whether the arXiv seed backend is used.
	EnableArxiv bool `json:"enable_arxiv" yaml:"enable_arxiv"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty"`

	// OpenAlexEmail is sent as the mailto parameter for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty"`
}

// ScoringConfig holds settings for the relevance scoring component.
type ScoringConfig struct {
	HTTPConfig `yaml:",inline"`

	// Model is the AI model identifier (e.g. "claude-3-5-haiku-20241022").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Concurrency bounds in-flight scoring calls (default 4).
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// CacheSize is the score cache capacity in entries (default 1024).
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

// ExpansionConfig holds the scheduler's stopping policy and limits.
type ExpansionConfig struct {
	// MaxRounds is the maximum number of expansion rounds after the seed
	// round (default 3).
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`

	// PriorityThreshold is the minimum priority a discovered paper needs
	// to enter the next frontier (default 4).
	PriorityThreshold int `json:"priority_threshold" yaml:"priority_threshold"`

	// CallBudget caps capability calls per session; 0 means unlimited.
	CallBudget int `json:"call_budget" yaml:"call_budget"`

	// MaxDiscovered caps papers discovered per session (default 200).
	MaxDiscovered int `json:"max_discovered" yaml:"max_discovered"`

	// MaxRelationships caps edge classifications per round (default 50).
	MaxRelationships int `json:"max_relationships" yaml:"max_relationships"`
}

// StoreConfig holds settings for session persistence.
type StoreConfig struct {
	// DataDir is the directory containing the session database (default "data").
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// EngineConfig groups all component configurations for one session.
type EngineConfig struct {
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`
	Scoring   ScoringConfig   `json:"scoring" yaml:"scoring"`
	Expansion ExpansionConfig `json:"expansion" yaml:"expansion"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Store     StoreConfig     `json:"store" yaml:"store"`
}
