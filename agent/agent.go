// Package agent implements the structured-output protocol shared by every
// consolidation stage: compile a registered prompt template, invoke the
// generation backend, extract and validate a JSON payload, and retry on
// validation failure up to a bound. Stage variation is configuration, not
// subclassing: each stage supplies a template id, an output schema, and a
// result type.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DPamK/MemoryLoom/llm"
	"github.com/DPamK/MemoryLoom/prompt"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts bounds generation retries when StageConfig leaves
// MaxAttempts unset.
const DefaultMaxAttempts = 3

// StageConfig identifies one pipeline stage and its output contract.
type StageConfig struct {
	Stage       string // Prompt registry stage id
	Schema      string // JSON schema description, interpolated as output_schema
	MaxAttempts int    // Generation attempts before giving up (default 3)
}

// Agent invokes the generation backend for one pipeline stage and returns a
// schema-conformant result. Both the backend client and the prompt registry
// are injected at construction; agents hold no global state.
type Agent[T Validator] struct {
	cfg      StageConfig
	client   llm.Client
	registry prompt.Registry
	logger   zerolog.Logger
}

// New creates an Agent for the given stage. If the registry has no template
// for the stage and a builtin exists, the builtin is registered.
func New[T Validator](cfg StageConfig, client llm.Client, registry prompt.Registry, logger zerolog.Logger) (*Agent[T], error) {
	if cfg.Stage == "" {
		return nil, fmt.Errorf("stage id is required")
	}
	if cfg.Schema == "" {
		return nil, fmt.Errorf("output schema is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if builtin := prompt.BuiltinTemplate(cfg.Stage); builtin != "" {
		if err := prompt.EnsureRegistered(registry, cfg.Stage, builtin); err != nil {
			return nil, fmt.Errorf("register builtin template for stage %q: %w", cfg.Stage, err)
		}
	}

	return &Agent[T]{
		cfg:      cfg,
		client:   client,
		registry: registry,
		logger:   logger.With().Str("component", "agent").Str("stage", cfg.Stage).Logger(),
	}, nil
}

// Invoke compiles the stage template with the given variables, calls the
// generation backend, and returns the first result that parses and validates
// against the stage schema.
//
// Template resolution failure is fatal and returned as an error. Generation,
// parse, and validation failures are retried up to MaxAttempts; when all
// attempts fail, Invoke returns ok=false with a nil error — the stage
// produced nothing this cycle, which callers must treat as a skip, not a
// pipeline failure.
func (a *Agent[T]) Invoke(ctx context.Context, vars map[string]string) (T, bool, error) {
	var zero T

	compiled, err := a.compile(vars)
	if err != nil {
		return zero, false, err
	}

	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		raw, err := a.client.Generate(ctx, compiled)
		if err != nil {
			a.logger.Warn().
				Int("attempt", attempt).
				Bool("timeout", llm.IsTimeoutError(err)).
				Err(err).
				Msg("Generation call failed")
			if ctx.Err() != nil {
				return zero, false, ctx.Err()
			}
			continue
		}

		result, err := a.decode(raw)
		if err != nil {
			a.logger.Warn().
				Int("attempt", attempt).
				Err(err).
				Msg("Generated output failed validation")
			continue
		}

		a.logger.Debug().Int("attempt", attempt).Msg("Stage produced a valid result")
		return result, true, nil
	}

	a.logger.Warn().Int("maxAttempts", a.cfg.MaxAttempts).Msg("All generation attempts exhausted")
	return zero, false, nil
}

// compile resolves the stage template and substitutes the call variables plus
// the stage's output schema.
func (a *Agent[T]) compile(vars map[string]string) (string, error) {
	tmpl, err := a.registry.Resolve(a.cfg.Stage)
	if err != nil {
		return "", fmt.Errorf("resolve template for stage %q: %w", a.cfg.Stage, err)
	}

	merged := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		merged[k] = v
	}
	merged["output_schema"] = a.cfg.Schema

	return tmpl.Compile(merged), nil
}

// decode extracts JSON candidates from raw output and returns the first one
// that unmarshals into T and validates.
func (a *Agent[T]) decode(raw string) (T, error) {
	var zero T

	candidates := ExtractJSON(raw)
	if len(candidates) == 0 {
		return zero, fmt.Errorf("no JSON payload in output")
	}

	var lastErr error
	for _, candidate := range candidates {
		var out T
		if err := json.Unmarshal([]byte(candidate), &out); err != nil {
			lastErr = fmt.Errorf("unmarshal candidate: %w", err)
			continue
		}
		if err := out.Validate(); err != nil {
			lastErr = fmt.Errorf("validate candidate: %w", err)
			continue
		}
		return out, nil
	}
	return zero, lastErr
}
