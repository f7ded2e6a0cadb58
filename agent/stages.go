package agent

import (
	"github.com/DPamK/MemoryLoom/llm"
	"github.com/DPamK/MemoryLoom/prompt"
	"github.com/rs/zerolog"
)

// maxAttempts <= 0 means DefaultMaxAttempts in all three constructors.

// NewRecordAgent builds the agent that condenses raw user input into records.
func NewRecordAgent(client llm.Client, registry prompt.Registry, maxAttempts int, logger zerolog.Logger) (*Agent[RecordResult], error) {
	return New[RecordResult](StageConfig{
		Stage:       prompt.StageRecord,
		Schema:      RecordSchema,
		MaxAttempts: maxAttempts,
	}, client, registry, logger)
}

// NewDayAgent builds the daily consolidator, whose schema also carries
// candidate long-term facts.
func NewDayAgent(client llm.Client, registry prompt.Registry, maxAttempts int, logger zerolog.Logger) (*Agent[DayResult], error) {
	return New[DayResult](StageConfig{
		Stage:       prompt.StageDay,
		Schema:      DaySchema,
		MaxAttempts: maxAttempts,
	}, client, registry, logger)
}

// NewRollupAgent builds a week, month, or year consolidator. All three share
// the summary+streamline output shape and differ only in their prompt.
func NewRollupAgent(stage string, client llm.Client, registry prompt.Registry, maxAttempts int, logger zerolog.Logger) (*Agent[RollupResult], error) {
	return New[RollupResult](StageConfig{
		Stage:       stage,
		Schema:      RollupSchema,
		MaxAttempts: maxAttempts,
	}, client, registry, logger)
}
