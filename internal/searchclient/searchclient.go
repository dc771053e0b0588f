// Package searchclient is the thin external-collaborator interface for
// the search-engine client spec.md §6 declares out of scope: "consumed
// contract: find_candidates(trade_name, city, registration_id) →
// [url]. Guarantees needed: at-most-25 results, best-effort ranking,
// budgeted timeout." Grounded on raito/internal/search/search.go's
// Provider interface shape, trimmed to exactly this one contract.
package searchclient

import (
	"context"
	"time"
)

// MaxResults is the spec.md §6 "at-most-25 results" guarantee.
const MaxResults = 25

// Client finds candidate URLs for a company from minimal identifiers.
type Client interface {
	FindCandidates(ctx context.Context, tradeName, city, registrationID string) ([]string, error)
}

// NoopClient is the default Client: it never makes a network call and
// always reports no candidates. A batch entry that already carries an
// explicit URL does not need search at all (the orchestrator is handed
// that URL directly); NoopClient exists so a deployment with no search
// provider configured still runs end to end for the remaining entries.
type NoopClient struct {
	Timeout time.Duration
}

// NewNoop constructs a NoopClient with spec.md §6's default search
// timeout budget.
func NewNoop() *NoopClient {
	return &NoopClient{Timeout: 10 * time.Second}
}

// FindCandidates implements Client.
func (c *NoopClient) FindCandidates(ctx context.Context, tradeName, city, registrationID string) ([]string, error) {
	return nil, nil
}
