package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("from environment variable", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

		key, err := GetAPIKey(&Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}})
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test-key", key)
		assert.Equal(t, KeySourceEnv, GetAPIKeySource(&Config{}))
	})

	t.Run("from config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, err := GetAPIKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-config-key", key)
		assert.Equal(t, KeySourceConfig, GetAPIKeySource(cfg))
	})

	t.Run("unexpanded reference is ignored", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${TEAMLEAD_UNSET_KEY_FOR_TEST}"}}
		_, err := GetAPIKey(cfg)
		assert.ErrorIs(t, err, ErrNoAPIKey)
	})

	t.Run("no key configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		_, err := GetAPIKey(&Config{})
		assert.ErrorIs(t, err, ErrNoAPIKey)
		assert.Equal(t, KeySourceNone, GetAPIKeySource(nil))
	})
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"sk-ant-short", "***"},
		{"sk-ant-REDACTED", "sk-ant-...1234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskAPIKey(tt.key))
	}
}
