package agent

import (
	"errors"
	"strings"
)

// Validator is implemented by every stage result type. A result that
// unmarshals but fails Validate counts as a failed generation attempt.
type Validator interface {
	Validate() error
}

// RecordResult is the output of the record summarizer stage.
type RecordResult struct {
	Think   string   `json:"think"`
	Records []string `json:"record"`
}

// Validate implements Validator. An empty record list is valid; it means the
// input carried nothing worth keeping.
func (r RecordResult) Validate() error {
	for _, rec := range r.Records {
		if strings.TrimSpace(rec) == "" {
			return errors.New("record entry is empty")
		}
	}
	return nil
}

// DayResult is the output of the daily consolidation stage. Facts holds
// candidate long-term facts extracted alongside the narrative summary.
type DayResult struct {
	Think   string   `json:"think"`
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
}

// Validate implements Validator.
func (r DayResult) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("summary is empty")
	}
	return nil
}

// RollupResult is the output of the week/month/year consolidation stages.
// Streamline is the condensed variant carried forward to the next tier.
type RollupResult struct {
	Think      string `json:"think"`
	Summary    string `json:"summary"`
	Streamline string `json:"streamline"`
}

// Validate implements Validator.
func (r RollupResult) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("summary is empty")
	}
	if strings.TrimSpace(r.Streamline) == "" {
		return errors.New("streamline is empty")
	}
	return nil
}

// JSON schema descriptions interpolated into stage prompts as output_schema.
const (
	RecordSchema = `{"type":"object","properties":{"think":{"type":"string","description":"reasoning"},"record":{"type":"array","items":{"type":"string"},"description":"condensed records"}},"required":["think","record"]}`

	DaySchema = `{"type":"object","properties":{"think":{"type":"string","description":"reasoning"},"summary":{"type":"string","description":"narrative summary of the day"},"facts":{"type":"array","items":{"type":"string"},"description":"durable long-term facts about the user"}},"required":["think","summary","facts"]}`

	RollupSchema = `{"type":"object","properties":{"think":{"type":"string","description":"reasoning"},"summary":{"type":"string","description":"merged summary of the period"},"streamline":{"type":"string","description":"condensed variant fed to the next tier"}},"required":["think","summary","streamline"]}`
)
