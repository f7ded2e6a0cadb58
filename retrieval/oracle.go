// Package retrieval scores stored memories against a query and fuses the
// best candidates from every tier into a single bounded response.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DocScore is the relevance score the oracle assigned to one candidate
// document. Index refers to the position in the submitted document list.
type DocScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Oracle ranks candidate documents against a query. Implementations must
// return one score per submitted document.
type Oracle interface {
	Score(ctx context.Context, query string, docs []string) ([]DocScore, error)
}

// RerankOracle scores documents through an external rerank HTTP endpoint.
// There is no local fallback ranking: if the endpoint is unreachable the
// retrieval call fails rather than returning silently unranked results.
type RerankOracle struct {
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRerankOracle creates an oracle backed by the given rerank endpoint URL.
func NewRerankOracle(url string, logger zerolog.Logger) *RerankOracle {
	return &RerankOracle{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", "rerank-oracle").Logger(),
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// Score posts {query, texts} to the rerank endpoint and returns the scored
// documents. Server-side errors (5xx) are retried with exponential backoff;
// client errors and exhausted retries surface as hard failures.
func (o *RerankOracle) Score(ctx context.Context, query string, docs []string) ([]DocScore, error) {
	if o.url == "" {
		return nil, fmt.Errorf("rerank endpoint not configured")
	}
	if len(docs) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	var scores []DocScore
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			return fmt.Errorf("rerank endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("rerank endpoint returned %d", resp.StatusCode))
		}

		if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
			return backoff.Permanent(fmt.Errorf("decode rerank response: %w", err))
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}

	if len(scores) != len(docs) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(scores), len(docs))
	}

	o.logger.Debug().Int("numDocs", len(docs)).Msg("Scored candidate documents")
	return scores, nil
}
