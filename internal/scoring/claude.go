// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/Annh770/Blatt/internal/capability"
	"github.com/Annh770/Blatt/pkg/types"
)

// scorePromptTmpl is the prompt sent to the Claude API for each paper. It
// instructs the model to rate relevance against the seed context on a 1-5
// scale and to return only JSON.
var scorePromptTmpl = template.Must(template.New("score").Parse(`You are a research relevance assessor. Rate how relevant the following paper is to a researcher's topic.

Research topic keywords: {{.Keywords}}
{{if .Description}}Research description: {{.Description}}
{{end}}
Paper title: {{.Title}}
Paper authors: {{.Authors}}
{{if .Abstract}}Paper abstract: {{.Abstract}}
{{end}}
Rate the paper's relevance on a 1-5 scale:
- 5: directly addresses the topic
- 4: strongly related, likely useful
- 3: related subfield, possibly useful
- 2: tangentially related
- 1: unrelated

Respond with a JSON object only, no other text:
{"priority": <1-5>, "matched_keywords": ["<topic keywords found in the paper>"], "rationale": "<one sentence>"}
`))

// classifyPromptTmpl is the prompt for classifying how a citing paper
// relates to the paper it cites.
var classifyPromptTmpl = template.Must(template.New("classify").Parse(`You are a research relationship classifier. One paper cites another; classify the relationship.

Citing paper: {{.FromTitle}}
{{if .FromAbstract}}Citing abstract: {{.FromAbstract}}
{{end}}
Cited paper: {{.ToTitle}}
{{if .ToAbstract}}Cited abstract: {{.ToAbstract}}
{{end}}
Pick exactly one relationship type:
- improves-on: the citing paper improves the cited paper's method or results
- builds-on: the citing paper uses the cited paper as a foundation
- compares-to: the citing paper compares against the cited paper
- unrelated: the citation is incidental
- unknown: not enough information to decide

Respond with a JSON object only, no other text:
{"relationship_type": "<type>", "confidence": <0.0-1.0>}
`))

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// maxAbstractChars bounds the abstract text included in prompts.
const maxAbstractChars = 500

// ClaudeBackend calls the Claude Messages API to score papers and classify
// citation relationships.
type ClaudeBackend struct {
	APIKey string
	Model  string
	Client *http.Client
}

// NewClaudeBackend builds a backend from config.
func NewClaudeBackend(cfg types.ScoringConfig) *ClaudeBackend {
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	client := &http.Client{}
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return &ClaudeBackend{APIKey: cfg.APIKey, Model: model, Client: client}
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// scoreReply is the JSON payload the score prompt asks for.
type scoreReply struct {
	Priority        int      `json:"priority"`
	MatchedKeywords []string `json:"matched_keywords"`
	Rationale       string   `json:"rationale"`
}

// classifyReply is the JSON payload the classify prompt asks for.
type classifyReply struct {
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// Score asks the model to rate one paper against the seed context.
func (c *ClaudeBackend) Score(ctx context.Context, seed types.SeedContext, p types.Paper) (types.ScoreRecord, error) {
	const op = "score paper"

	var buf bytes.Buffer
	err := scorePromptTmpl.Execute(&buf, map[string]string{
		"Keywords":    seed.Keywords,
		"Description": seed.Description,
		"Title":       p.Title,
		"Authors":     strings.Join(p.Authors, ", "),
		"Abstract":    truncate(p.Abstract, maxAbstractChars),
	})
	if err != nil {
		return types.ScoreRecord{}, capability.Permanent(op, fmt.Errorf("rendering prompt: %w", err))
	}

	var reply scoreReply
	if err := c.call(ctx, op, buf.String(), &reply); err != nil {
		return types.ScoreRecord{}, err
	}
	if reply.Priority < 1 || reply.Priority > 5 {
		return types.ScoreRecord{}, capability.Permanent(op, fmt.Errorf("priority %d out of range", reply.Priority))
	}

	return types.ScoreRecord{
		Priority:        reply.Priority,
		Rationale:       reply.Rationale,
		MatchedKeywords: reply.MatchedKeywords,
	}, nil
}

// Classify asks the model how the citing paper relates to the cited one.
// An unrecognized type maps to "unknown" rather than failing the call.
func (c *ClaudeBackend) Classify(ctx context.Context, from, to types.Paper) (types.RelationshipRecord, error) {
	const op = "classify relationship"

	var buf bytes.Buffer
	err := classifyPromptTmpl.Execute(&buf, map[string]string{
		"FromTitle":    from.Title,
		"FromAbstract": truncate(from.Abstract, maxAbstractChars),
		"ToTitle":      to.Title,
		"ToAbstract":   truncate(to.Abstract, maxAbstractChars),
	})
	if err != nil {
		return types.RelationshipRecord{}, capability.Permanent(op, fmt.Errorf("rendering prompt: %w", err))
	}

	var reply classifyReply
	if err := c.call(ctx, op, buf.String(), &reply); err != nil {
		return types.RelationshipRecord{}, err
	}

	rt := types.RelationshipType(reply.RelationshipType)
	valid := false
	for _, v := range types.ValidRelationshipTypes {
		if rt == v {
			valid = true
			break
		}
	}
	if !valid {
		rt = types.RelUnknown
	}

	return types.RelationshipRecord{
		FromKey:    from.Key,
		ToKey:      to.Key,
		Type:       rt,
		Confidence: reply.Confidence,
	}, nil
}

// call sends one prompt to the Claude API and unmarshals the first text
// block into out. Failures carry their retry classification.
func (c *ClaudeBackend) call(ctx context.Context, op, prompt string, out any) error {
	reqBody := claudeRequest{
		Model:     c.Model,
		MaxTokens: 1024,
		Messages: []claudeMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return capability.Permanent(op, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return capability.Permanent(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return capability.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capability.FromStatus(op, resp.StatusCode)
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return capability.Permanent(op, fmt.Errorf("decoding response: %w", err))
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		if err := json.Unmarshal([]byte(block.Text), out); err != nil {
			return capability.Permanent(op, fmt.Errorf("parsing reply JSON: %w", err))
		}
		return nil
	}
	return capability.Permanent(op, fmt.Errorf("no text content in response"))
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
