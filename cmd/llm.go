package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/issuetrack/internal/api"
	"github.com/joescharf/issuetrack/internal/llm"
)

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

// newEnricher returns the configured client as an api.Enricher, or an untyped
// nil so the handler reports enrichment as unavailable.
func newEnricher() api.Enricher {
	if c := newLLMClient(); c != nil {
		return c
	}
	return nil
}
