package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/store"
)

// anthropicFallbackModels are tried in order when the selected model is not
// available on the account (the API answers 404 for models an account cannot
// use).
var anthropicFallbackModels = []string{
	config.DefaultAnthropicModel,
	"claude-3-opus-20240229",
	"claude-sonnet-4-20250514",
	"claude-3-haiku-20240307",
}

const noModelAvailable = "No Claude model available. Set ANTHROPIC_MODEL to a model your account has (e.g. claude-3-haiku-20240307)."

// AnthropicProvider calls the Anthropic messages API, scanning a fixed list
// of fallback models when the preferred one is not found.
type AnthropicProvider struct {
	client   anthropic.Client
	override string
}

func NewAnthropicProvider(cfg *config.Config) *AnthropicProvider {
	return &AnthropicProvider{
		client:   anthropic.NewClient(option.WithAPIKey(cfg.AnthropicKey)),
		override: cfg.AnthropicModel,
	}
}

func (p *AnthropicProvider) Name() string {
	return "claude"
}

func (p *AnthropicProvider) Complete(ctx context.Context, system string, messages []store.Message) (string, error) {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	return completeWithFallback(p.candidateModels(), func(model string) (string, error) {
		msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxReplyTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  params,
		})
		if err != nil {
			return "", err
		}
		var text strings.Builder
		for _, block := range msg.Content {
			if b, ok := block.AsAny().(anthropic.TextBlock); ok {
				text.WriteString(b.Text)
			}
		}
		return strings.TrimSpace(text.String()), nil
	})
}

// candidateModels puts the override (when set) first, then the fixed
// fallbacks with the override deduplicated.
func (p *AnthropicProvider) candidateModels() []string {
	first := p.override
	if first == "" {
		first = anthropicFallbackModels[0]
	}
	models := []string{first}
	for _, m := range anthropicFallbackModels {
		if m != first {
			models = append(models, m)
		}
	}
	return models
}

// completeWithFallback scans candidates in order: success returns
// immediately, a not-found-class error moves to the next candidate, any
// other error aborts. Exhaustion surfaces the last not-found error.
func completeWithFallback(models []string, call func(model string) (string, error)) (string, error) {
	var lastErr error
	for _, model := range models {
		reply, err := call(model)
		if err == nil {
			return reply, nil
		}
		if !isModelNotFound(err) {
			return "", err
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", errors.New(noModelAvailable)
}

func isModelNotFound(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not_found")
}
