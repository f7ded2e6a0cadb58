package pipeline

import (
	"context"
	"strings"

	"github.com/DPamK/MemoryLoom/agent"
	"github.com/DPamK/MemoryLoom/memory"
	"github.com/rs/zerolog"
)

// Ingestor accepts raw interaction text and stores it as short-term records.
// The record agent condenses the text first; if it produces nothing usable
// the raw text is stored verbatim, so ingestion never depends on the
// generation backend being healthy.
type Ingestor struct {
	store  *memory.Store
	agent  *agent.Agent[agent.RecordResult]
	logger zerolog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(store *memory.Store, recordAgent *agent.Agent[agent.RecordResult], logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		agent:  recordAgent,
		logger: logger.With().Str("component", "ingestor").Logger(),
	}
}

// IngestRecord condenses and appends one raw interaction for a user.
// Returns the ids of the appended records.
func (i *Ingestor) IngestRecord(ctx context.Context, userID, content string) ([]int64, error) {
	contents := []string{content}

	if i.agent != nil {
		result, ok, err := i.agent.Invoke(ctx, map[string]string{
			"user":          userID,
			"input_history": content,
		})
		switch {
		case err != nil:
			i.logger.Warn().Str("user_id", userID).Err(err).Msg("Record agent unavailable, storing raw content")
		case !ok:
			i.logger.Warn().Str("user_id", userID).Msg("Record agent produced no result, storing raw content")
		case len(result.Records) == 0:
			// The agent judged the input to carry nothing worth keeping.
			i.logger.Debug().Str("user_id", userID).Msg("Record agent returned empty record list")
			return nil, nil
		default:
			contents = result.Records
		}
	}

	ids := make([]int64, 0, len(contents))
	for _, c := range contents {
		if strings.TrimSpace(c) == "" {
			continue
		}
		id, err := i.store.AppendRecord(ctx, userID, c)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
