package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/DPamK/MemoryLoom/memory"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Options tunes candidate gathering and the per-source budget split.
type Options struct {
	// Lookback is how many recent periods are fetched per summary tier.
	Lookback int
	// Budget shares of topk per source. Each source gets at least one slot
	// when topk > 0.
	RecordShare   float64
	LongTermShare float64
	SummaryShare  float64
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		Lookback:      4,
		RecordShare:   0.4,
		LongTermShare: 0.3,
		SummaryShare:  0.3,
	}
}

// Response is the fused retrieval result, partitioned by memory source.
type Response struct {
	Records  []string `json:"records"`
	LongTerm []string `json:"longterm"`
	Summary  []string `json:"summary"`
}

type sourceKind int

const (
	sourceRecord sourceKind = iota
	sourceLongTerm
	sourceSummary
)

type candidate struct {
	kind      sourceKind
	text      string
	createdAt time.Time
	score     float64
}

// MemoryReader is the slice of the store the fuser reads from.
type MemoryReader interface {
	LatestRecords(ctx context.Context, userID string, n int) ([]memory.Record, error)
	LatestFacts(ctx context.Context, userID string, n int) ([]memory.LongTermFact, error)
	LatestSummaries(ctx context.Context, userID string, tier memory.Tier, n int) ([]memory.TierSummary, error)
}

// Fuser gathers candidates across all memory tiers, scores them in a single
// oracle call, and returns the top results per source within the topk budget.
type Fuser struct {
	store  MemoryReader
	oracle Oracle
	opts   Options
	logger zerolog.Logger
}

// NewFuser creates a Fuser.
func NewFuser(store MemoryReader, oracle Oracle, opts Options, logger zerolog.Logger) *Fuser {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultOptions().Lookback
	}
	if opts.RecordShare+opts.LongTermShare+opts.SummaryShare <= 0 {
		d := DefaultOptions()
		opts.RecordShare, opts.LongTermShare, opts.SummaryShare = d.RecordShare, d.LongTermShare, d.SummaryShare
	}
	return &Fuser{
		store:  store,
		oracle: oracle,
		opts:   opts,
		logger: logger.With().Str("component", "fuser").Logger(),
	}
}

// Retrieve answers a query for a user. All candidates ride in one oracle
// call; an oracle failure fails the whole retrieval, it never degrades to an
// unranked response.
func (f *Fuser) Retrieve(ctx context.Context, userID, query string, topk int) (*Response, error) {
	if topk <= 0 {
		return &Response{Records: []string{}, LongTerm: []string{}, Summary: []string{}}, nil
	}

	candidates, err := f.gather(ctx, userID, topk)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Response{Records: []string{}, LongTerm: []string{}, Summary: []string{}}, nil
	}

	docs := lo.Map(candidates, func(c candidate, _ int) string { return c.text })
	scores, err := f.oracle.Score(ctx, query, docs)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}
	for _, ds := range scores {
		if ds.Index < 0 || ds.Index >= len(candidates) {
			return nil, fmt.Errorf("oracle returned out-of-range index %d", ds.Index)
		}
		candidates[ds.Index].score = ds.Score
	}

	// Score desc, recency desc on ties. Stable so equal candidates keep
	// their gathering order.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].createdAt.After(candidates[j].createdAt)
	})

	resp := &Response{
		Records:  take(candidates, sourceRecord, budget(topk, f.opts.RecordShare)),
		LongTerm: take(candidates, sourceLongTerm, budget(topk, f.opts.LongTermShare)),
		Summary:  take(candidates, sourceSummary, budget(topk, f.opts.SummaryShare)),
	}

	f.logger.Debug().
		Str("user_id", userID).
		Int("topk", topk).
		Int("numCandidates", len(candidates)).
		Int("numRecords", len(resp.Records)).
		Int("numLongTerm", len(resp.LongTerm)).
		Int("numSummary", len(resp.Summary)).
		Msg("Fused retrieval response")
	return resp, nil
}

// gather pulls the recent candidate pool for one user: a few multiples of
// topk from the append-only tiers and a bounded lookback per summary tier.
func (f *Fuser) gather(ctx context.Context, userID string, topk int) ([]candidate, error) {
	pool := topk * 4

	records, err := f.store.LatestRecords(ctx, userID, pool)
	if err != nil {
		return nil, fmt.Errorf("gather records: %w", err)
	}
	facts, err := f.store.LatestFacts(ctx, userID, pool)
	if err != nil {
		return nil, fmt.Errorf("gather long-term facts: %w", err)
	}

	candidates := make([]candidate, 0, len(records)+len(facts))
	for _, r := range records {
		candidates = append(candidates, candidate{kind: sourceRecord, text: r.Content, createdAt: r.CreatedAt})
	}
	for _, ft := range facts {
		candidates = append(candidates, candidate{kind: sourceLongTerm, text: ft.Content, createdAt: ft.CreatedAt})
	}

	for _, tier := range memory.SummaryTiers {
		summaries, err := f.store.LatestSummaries(ctx, userID, tier, f.opts.Lookback)
		if err != nil {
			return nil, fmt.Errorf("gather %s summaries: %w", tier, err)
		}
		for _, s := range summaries {
			candidates = append(candidates, candidate{kind: sourceSummary, text: s.Content, createdAt: s.CreatedAt})
		}
	}
	return candidates, nil
}

// budget converts a share of topk into a slot count, never below one.
func budget(topk int, share float64) int {
	n := int(float64(topk) * share)
	if n < 1 {
		n = 1
	}
	return n
}

// take returns the texts of the first n candidates of the given kind, in the
// already-sorted order.
func take(sorted []candidate, kind sourceKind, n int) []string {
	out := make([]string, 0, n)
	for _, c := range sorted {
		if c.kind != kind {
			continue
		}
		out = append(out, c.text)
		if len(out) == n {
			break
		}
	}
	return out
}
