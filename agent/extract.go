package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedBlockRe matches ``` or ```json fenced code blocks.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls JSON payload candidates out of raw model output.
// If the entire text parses as JSON it is the only candidate; otherwise every
// fenced code block is returned as a candidate, in order of appearance.
// Generation backends routinely wrap JSON in commentary or markdown fences,
// so callers should try candidates in order until one validates.
func ExtractJSON(text string) []string {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return []string{trimmed}
	}

	matches := fencedBlockRe.FindAllStringSubmatch(text, -1)
	candidates := make([]string, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	return candidates
}
