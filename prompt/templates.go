package prompt

// Stage ids for the consolidation pipeline.
const (
	StageRecord = "record"
	StageDay    = "day"
	StageWeek   = "week"
	StageMonth  = "month"
	StageYear   = "year"
)

// builtinTemplates holds the default template for each pipeline stage.
// Every template interpolates output_schema so the backend knows the exact
// JSON shape to emit, and input_history with the serialized lower-tier items.
var builtinTemplates = map[string]string{
	StageRecord: `You are a note-taking assistant. Whatever the user says, your job is to
condense it into factual records.

Requirements:
1. Where possible, summarize from the perspective of [{{user}}]; if the
   brackets are empty or meaningless, ignore this requirement.
2. Preserve the core points and key details of the original text. Keep the
   language concise and coherent; do not add speculation or unrelated content.
3. If the input is empty or meaningless, the record list may be empty.
4. If one record cannot cover all the important information, emit several.
5. Respond with JSON only, following this schema:
{{output_schema}}

Input:
{{input_history}}`,

	StageDay: `You are a memory consolidation assistant. Below are the raw records a user
accumulated over one day. Summarize them into a single narrative covering what
happened that day.

Requirements:
1. Keep important events, decisions, and outcomes; drop trivia.
2. Additionally extract durable long-term facts about the user (e.g. their
   name, preferences, relationships) into the facts list. Leave it empty when
   nothing durable appears.
3. Respond with JSON only, following this schema:
{{output_schema}}

Records for {{period}}:
{{input_history}}`,

	StageWeek: `You are a memory consolidation assistant. Below are daily summaries from one
week. Merge them into a single weekly summary, plus a condensed streamline
variant (at most a few sentences) that will feed the next consolidation tier.

Requirements:
1. The summary preserves the week's important events and their order.
2. The streamline keeps only what matters beyond this week.
3. Respond with JSON only, following this schema:
{{output_schema}}

Daily summaries for {{period}}:
{{input_history}}`,

	StageMonth: `You are a memory consolidation assistant. Below are weekly summaries from one
month. Merge them into a single monthly summary, plus a condensed streamline
variant that will feed the next consolidation tier.

Requirements:
1. The summary preserves the month's important events and developments.
2. The streamline keeps only what matters beyond this month.
3. Respond with JSON only, following this schema:
{{output_schema}}

Weekly summaries for {{period}}:
{{input_history}}`,

	StageYear: `You are a memory consolidation assistant. Below are monthly summaries from one
year. Merge them into a single yearly summary, plus a condensed streamline
variant capturing the year in a few sentences.

Requirements:
1. The summary preserves the year's defining events and changes.
2. The streamline keeps only what matters in the long run.
3. Respond with JSON only, following this schema:
{{output_schema}}

Monthly summaries for {{period}}:
{{input_history}}`,
}

// BuiltinTemplate returns the default template text for a stage, or "" when
// the stage has no builtin.
func BuiltinTemplate(stageID string) string {
	return builtinTemplates[stageID]
}
