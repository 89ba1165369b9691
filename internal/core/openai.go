package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/store"
)

const openaiTemperature = 0.3

// OpenAIProvider calls the OpenAI chat completions API with a single,
// configurable model. No fallback scan: OpenAI accounts do not gate chat
// models the way Anthropic does.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(cfg *config.Config) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(cfg.OpenAIKey)),
		model:  cfg.OpenAIModel,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Complete(ctx context.Context, system string, messages []store.Message) (string, error) {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	params = append(params, openai.SystemMessage(system))
	for _, m := range messages {
		switch m.Role {
		case "user":
			params = append(params, openai.UserMessage(m.Content))
		case "assistant":
			params = append(params, openai.AssistantMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    params,
		Temperature: openai.Float(openaiTemperature),
		MaxTokens:   openai.Int(maxReplyTokens),
	})
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("%s Use Claude instead: set ANTHROPIC_API_KEY (get a key at console.anthropic.com) and redeploy.", err.Error())
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func isQuotaError(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota")
}
