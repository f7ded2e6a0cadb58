package agent

import (
	"testing"
)

func TestExtractJSONWholeText(t *testing.T) {
	candidates := ExtractJSON(`  {"a": 1}  `)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0] != `{"a": 1}` {
		t.Errorf("candidate = %q", candidates[0])
	}
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Sure, here is the summary you asked for:\n```json\n{\"summary\": \"x\"}\n```\nLet me know if you need anything else."
	candidates := ExtractJSON(raw)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0] != `{"summary": "x"}` {
		t.Errorf("candidate = %q", candidates[0])
	}
}

func TestExtractJSONMultipleFencesInOrder(t *testing.T) {
	raw := "First:\n```\n{\"n\": 1}\n```\nThen:\n```json\n{\"n\": 2}\n```"
	candidates := ExtractJSON(raw)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0] != `{"n": 1}` || candidates[1] != `{"n": 2}` {
		t.Errorf("candidates out of order: %v", candidates)
	}
}

func TestExtractJSONNoPayload(t *testing.T) {
	if candidates := ExtractJSON("no structured output here"); len(candidates) != 0 {
		t.Errorf("expected no candidates, got %v", candidates)
	}
}
