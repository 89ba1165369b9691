package core

import (
	"context"

	"github.com/vuelogic/schedule-agent/internal/config"
	"github.com/vuelogic/schedule-agent/internal/store"
)

// maxReplyTokens bounds every completion request.
const maxReplyTokens = 4096

// Provider is one chat-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system string, messages []store.Message) (string, error)
}

const noKeyError = "No API key configured. Set OPENAI_API_KEY or ANTHROPIC_API_KEY."

// Dispatcher routes a completion request to whichever provider has a usable
// credential. Anthropic overrides OpenAI when both are configured.
type Dispatcher struct {
	providers []Provider
}

func NewDispatcher(cfg *config.Config) *Dispatcher {
	var providers []Provider
	if cfg.HasAnthropicKey() {
		providers = append(providers, NewAnthropicProvider(cfg))
	}
	if cfg.HasOpenAIKey() {
		providers = append(providers, NewOpenAIProvider(cfg))
	}
	return &Dispatcher{providers: providers}
}

// NewDispatcherWithProviders builds a dispatcher from an explicit provider
// list, first entry preferred. Used by tests and custom wiring.
func NewDispatcherWithProviders(providers ...Provider) *Dispatcher {
	return &Dispatcher{providers: providers}
}

// HasProvider reports whether any usable credential is configured.
func (d *Dispatcher) HasProvider() bool {
	return len(d.providers) > 0
}

// ProviderName returns the name of the provider that will be used, or "".
func (d *Dispatcher) ProviderName() string {
	if len(d.providers) == 0 {
		return ""
	}
	return d.providers[0].Name()
}

// Send forwards the assembled prompt and message history to the selected
// provider. Provider failures are returned as text in the second value, not
// as a Go error: the chat endpoint reports them as a non-fatal field.
func (d *Dispatcher) Send(ctx context.Context, system string, messages []store.Message) (string, string) {
	if len(d.providers) == 0 {
		return "", noKeyError
	}
	reply, err := d.providers[0].Complete(ctx, system, messages)
	if err != nil {
		return "", err.Error()
	}
	return reply, ""
}
