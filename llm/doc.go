// Package llm defines a provider-neutral interface for the text generation
// backend that drives memory consolidation, plus a provider registry for
// resolving which backend to use. Concrete clients live in subpackages
// (openai, ollama, anthropic).
package llm
