package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciforge/discoveryd/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{"groq", "groq", false},
		{"gemini", "gemini", false},
		{"", "", true},
		{"openai", "", true},
	}
	for _, tt := range tests {
		t.Run("provider "+tt.provider, func(t *testing.T) {
			client, err := New(config.LLMConfig{Provider: tt.provider})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, client.Name())
		})
	}
}
