package llm

import (
	"fmt"
	"os"
)

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// ClientKey uniquely identifies a generation client configuration.
type ClientKey struct {
	Provider string
	Model    string
	APIKey   string // For credential-based providers
	Host     string // For Ollama
	BaseURL  string // For OpenAI-compatible endpoints
}

// ProviderConfig holds the configuration needed to resolve a provider.
// This avoids import cycles by not importing the config package.
type ProviderConfig struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	OllamaHost      string
	OllamaModel     string
	AnthropicAPIKey string
	AnthropicModel  string
}

// ResolveClientKey resolves provider-specific configuration for the named
// provider, falling back to environment variables for credentials. Client
// construction is handled by the caller to avoid import cycles with the
// provider subpackages.
func ResolveClientKey(provider string, cfg *ProviderConfig) (*ClientKey, error) {
	key := &ClientKey{Provider: provider}

	switch provider {
	case ProviderOpenAI:
		apiKey := cfg.OpenAIAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key not configured")
		}
		key.APIKey = apiKey
		key.BaseURL = cfg.OpenAIBaseURL
		key.Model = cfg.OpenAIModel
		if key.Model == "" {
			return nil, fmt.Errorf("openai model not specified")
		}

	case ProviderOllama:
		host := cfg.OllamaHost
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		key.Host = host
		key.Model = cfg.OllamaModel
		if key.Model == "" {
			return nil, fmt.Errorf("ollama model not specified")
		}

	case ProviderAnthropic:
		apiKey := cfg.AnthropicAPIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key not configured")
		}
		key.APIKey = apiKey
		key.Model = cfg.AnthropicModel
		if key.Model == "" {
			key.Model = "claude-3-5-haiku-latest"
		}

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	return key, nil
}
