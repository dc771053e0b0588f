// Package llmclient is the thin external-collaborator interface for
// the LLM provider spec.md §6 declares out of scope: "consumed
// contract: extract(chunk, schema) → profile_fragment | fail. The
// scraper only delivers the pages array; chunking, merging and
// persistence are downstream." Grounded on raito/internal/llm/llm.go's
// Client interface shape, trimmed to the one contract the fabric's
// boundary actually needs.
package llmclient

import "context"

// FieldSpec names one field of the structured profile to extract.
type FieldSpec struct {
	Name        string
	Description string
	Type        string
}

// ExtractRequest carries one chunk of scraped text plus the schema the
// caller wants populated from it.
type ExtractRequest struct {
	URL    string
	Text   string
	Fields []FieldSpec
}

// ExtractResult is the structured fragment the LLM produced for one
// chunk; fragments from multiple chunks are merged downstream of the
// scraping fabric.
type ExtractResult struct {
	Fields map[string]any
}

// Client turns scraped text into a structured profile fragment.
type Client interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}

// NoopClient is the default Client: it returns an empty fragment
// without making a network call, so the scraping fabric can be
// exercised end to end without a configured LLM provider.
type NoopClient struct{}

// NewNoop constructs a NoopClient.
func NewNoop() *NoopClient { return &NoopClient{} }

// Extract implements Client.
func (c *NoopClient) Extract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	return ExtractResult{Fields: map[string]any{}}, nil
}
