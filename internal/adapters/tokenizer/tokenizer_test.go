package tokenizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/chatsum/internal/adapters/tokenizer"
	"github.com/PabloGalante/chatsum/internal/domain"
)

var (
	_ domain.TokenCounter = (*tokenizer.Tiktoken)(nil)
	_ domain.TokenCounter = tokenizer.Approx{}
)

func TestApprox(t *testing.T) {
	var a tokenizer.Approx
	assert.Equal(t, 0, a.CountTokens(""))
	assert.Equal(t, 1, a.CountTokens("hi"))
	assert.Equal(t, 1, a.CountTokens("four"))
	assert.Equal(t, 2, a.CountTokens("fives"))
	assert.Equal(t, 1, a.CountTokens("héé"))
}

func TestTiktoken(t *testing.T) {
	tk, err := tokenizer.NewTiktoken()
	if err != nil {
		t.Skipf("cl100k_base unavailable: %v", err)
	}

	assert.Equal(t, 0, tk.CountTokens(""))
	assert.Equal(t, 2, tk.CountTokens("hello world"))
	assert.Greater(t, tk.CountTokens("a much longer sentence has more tokens"), tk.CountTokens("short"))
}
