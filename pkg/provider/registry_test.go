package provider

import (
	"context"
	"testing"

	"github.com/revkit/rev/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ name string }

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (Response, error) {
	return Response{}, nil
}
func (f *fakeProvider) ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (Response, error) {
	return Response{}, nil
}
func (f *fakeProvider) SupportsToolCalling(model string) bool { return true }
func (f *fakeProvider) ValidateConfig() bool                  { return true }
func (f *fakeProvider) GetModelList() []string                { return nil }
func (f *fakeProvider) CountTokens(messages []Message) int    { return 0 }
func (f *fakeProvider) ClassifyError(err error) retry.Classification {
	return retry.Classification{Class: retry.ClassUnknown}
}
func (f *fakeProvider) RetryConfig() retry.Config { return retry.DefaultConfig() }

func TestAutoDetect_RoutesByModelPrefix(t *testing.T) {
	assert.Equal(t, "local", AutoDetect("gpt-oss-20b"))
	assert.Equal(t, "openai-compatible", AutoDetect("GPT-4o"))
	assert.Equal(t, "openai-compatible", AutoDetect("o1-preview"))
	assert.Equal(t, "anthropic-compatible", AutoDetect("claude-3-5-sonnet"))
	assert.Equal(t, "gemini-compatible", AutoDetect("gemini-1.5-pro"))
	assert.Equal(t, "local", AutoDetect("llama3"))
}

func TestRegistry_ResolveUsesExplicitNameOverAutoDetect(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("openai-compatible", &fakeProvider{name: "openai-compatible"}))
	require.NoError(t, r.Register("my-custom", &fakeProvider{name: "my-custom"}))

	p, err := r.Resolve("my-custom", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "my-custom", p.(*fakeProvider).name)
}

func TestRegistry_ResolveFallsBackToAutoDetect(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("anthropic-compatible", &fakeProvider{name: "anthropic-compatible"}))

	p, err := r.Resolve("", "claude-3-opus")
	require.NoError(t, err)
	assert.Equal(t, "anthropic-compatible", p.(*fakeProvider).name)
}

func TestRegistry_ResolveUnregisteredErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("", "gemini-1.5-pro")
	assert.Error(t, err)
}
