// File path: internal/llm/llm.go
package llm

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/llm/providers"
)

type Message = providers.Message

type Provider = providers.Provider

// NewProvider selects the model backend from the environment. With an
// OPENAI_API_KEY present it talks to the configured endpoints; without
// one every capability falls back to the deterministic local provider.
//
// CORE_LLM_ENDPOINT overrides the chat base URL and
// CORE_EMBEDDINGS_ENDPOINT the embeddings base URL, which lets the two
// capabilities point at different local inference servers.
func NewProvider() Provider {
	logger := common.Logger()
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		logger.Warn("llm: OPENAI_API_KEY not set; falling back to local provider")
		return providers.NewLocalProvider()
	}

	base := []option.RequestOption{option.WithAPIKey(apiKey)}
	if timeoutStr := strings.TrimSpace(os.Getenv("OPENAI_HTTP_TIMEOUT")); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			logger.Warn("llm: invalid OPENAI_HTTP_TIMEOUT, using default", "value", timeoutStr, "error", err)
		} else {
			base = append(base, option.WithRequestTimeout(timeout))
		}
	}

	chatOpts := append([]option.RequestOption{}, base...)
	if endpoint := strings.TrimSpace(os.Getenv("CORE_LLM_ENDPOINT")); endpoint != "" {
		logger.Info("llm: custom chat endpoint", "endpoint", endpoint)
		chatOpts = append(chatOpts, option.WithBaseURL(endpoint))
	}
	embedOpts := append([]option.RequestOption{}, base...)
	if endpoint := strings.TrimSpace(os.Getenv("CORE_EMBEDDINGS_ENDPOINT")); endpoint != "" {
		logger.Info("llm: custom embeddings endpoint", "endpoint", endpoint)
		embedOpts = append(embedOpts, option.WithBaseURL(endpoint))
	}

	chatClient := openai.NewClient(chatOpts...)
	embedClient := openai.NewClient(embedOpts...)
	logger.Info("llm: openai provider selected")
	return providers.NewOpenAIProvider(&chatClient, &embedClient)
}

// NormalizeMessages lowercases roles and rejects empty requests.
func NormalizeMessages(messages []Message) ([]Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages provided")
	}
	for i := range messages {
		messages[i].Role = strings.ToLower(messages[i].Role)
	}
	return messages, nil
}
