package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/terms-cli/internal/config"
)

func TestRegistry_Adapter(t *testing.T) {
	r := NewRegistry(&config.Config{
		Gemini:    config.ProviderConfig{Key: "k1", PrimaryModel: "gemini-2.5-pro"},
		OpenAI:    config.ProviderConfig{Key: "k2", PrimaryModel: "gpt-4o"},
		Anthropic: config.ProviderConfig{Key: "k3", PrimaryModel: "claude-sonnet-4-20250514"},
	})

	for _, name := range []string{"gemini", "openai", "claude"} {
		a, err := r.Adapter(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, a.Name())
	}

	_, err := r.Adapter("bard")
	require.Error(t, err)

	assert.ElementsMatch(t, []string{"gemini", "openai", "claude"}, r.Names())
}
