package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuelogic/schedule-agent/internal/config"
)

func TestCandidateModelsDefaultOrder(t *testing.T) {
	p := &AnthropicProvider{}
	assert.Equal(t, anthropicFallbackModels, p.candidateModels())
}

func TestCandidateModelsOverrideFirstAndDeduplicated(t *testing.T) {
	p := &AnthropicProvider{override: "claude-3-haiku-20240307"}
	models := p.candidateModels()
	assert.Equal(t, []string{
		"claude-3-haiku-20240307",
		config.DefaultAnthropicModel,
		"claude-3-opus-20240229",
		"claude-sonnet-4-20250514",
	}, models)
}

func TestCandidateModelsUnknownOverride(t *testing.T) {
	p := &AnthropicProvider{override: "claude-custom"}
	models := p.candidateModels()
	require.Len(t, models, 5)
	assert.Equal(t, "claude-custom", models[0])
}

func TestCompleteWithFallbackSkipsNotFound(t *testing.T) {
	var tried []string
	reply, err := completeWithFallback(
		[]string{"m1", "m2", "m3", "m4"},
		func(model string) (string, error) {
			tried = append(tried, model)
			if len(tried) < 4 {
				return "", errors.New("404 model not found")
			}
			return "answer from " + model, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "answer from m4", reply)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, tried)
}

func TestCompleteWithFallbackAbortsOnOtherError(t *testing.T) {
	var tried []string
	_, err := completeWithFallback(
		[]string{"m1", "m2", "m3"},
		func(model string) (string, error) {
			tried = append(tried, model)
			if model == "m2" {
				return "", errors.New("invalid api key")
			}
			return "", errors.New("not_found")
		},
	)
	require.Error(t, err)
	assert.Equal(t, "invalid api key", err.Error())
	assert.Equal(t, []string{"m1", "m2"}, tried)
}

func TestCompleteWithFallbackExhaustionReturnsLastNotFound(t *testing.T) {
	_, err := completeWithFallback(
		[]string{"m1", "m2"},
		func(model string) (string, error) {
			return "", errors.New("model " + model + " not_found")
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "m2")
}

func TestCompleteWithFallbackNoCandidates(t *testing.T) {
	_, err := completeWithFallback(nil, func(string) (string, error) {
		t.Fatal("call should not be reached")
		return "", nil
	})
	require.Error(t, err)
	assert.Equal(t, noModelAvailable, err.Error())
}

func TestIsModelNotFound(t *testing.T) {
	assert.True(t, isModelNotFound(errors.New("404 page not found")))
	assert.True(t, isModelNotFound(errors.New("type: not_found_error")))
	assert.False(t, isModelNotFound(errors.New("429 rate limited")))
}

func TestIsQuotaError(t *testing.T) {
	assert.True(t, isQuotaError(errors.New("429 Too Many Requests")))
	assert.True(t, isQuotaError(errors.New("insufficient_quota: billing hard limit")))
	assert.False(t, isQuotaError(errors.New("connection refused")))
}
