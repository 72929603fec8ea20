package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer counts whitespace-separated words. It keeps tests hermetic:
// the real tiktoken encoding needs its vocabulary on disk.
type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}

func newTestChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg, WithTokenizer(wordTokenizer{}))
	require.NoError(t, err)
	return c
}

// sentences builds n sentences of exactly wordsPer whitespace tokens each,
// the sentence period attached to the final word.
func sentences(n, wordsPer int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		words := make([]string, wordsPer)
		for w := range words {
			words[w] = fmt.Sprintf("w%d_%d", i, w)
		}
		b.WriteString(strings.Join(words, " "))
		b.WriteString(". ")
	}
	return b.String()
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults valid", cfg: Config{}},
		{name: "target too small", cfg: Config{TargetTokens: 256}, wantErr: true},
		{name: "target too large", cfg: Config{TargetTokens: 2048}, wantErr: true},
		{name: "overlap too small", cfg: Config{OverlapTokens: 10}, wantErr: true},
		{name: "overlap too large", cfg: Config{OverlapTokens: 200}, wantErr: true},
		{name: "bounds are inclusive", cfg: Config{TargetTokens: 512, OverlapTokens: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitEmpty(t *testing.T) {
	c := newTestChunker(t, Config{})

	chunks, err := c.Split("")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Split("   \n\n   ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitSingleChunk(t *testing.T) {
	c := newTestChunker(t, Config{})

	chunks, err := c.Split("A short document. Nothing to split here.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "A short document. Nothing to split here.", chunks[0].Content)
}

func TestSplitContiguousIndexes(t *testing.T) {
	c := newTestChunker(t, Config{})

	chunks, err := c.Split(sentences(400, 10))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Content)
	}
}

func TestSplitRespectsTokenBudget(t *testing.T) {
	c := newTestChunker(t, Config{})
	tok := wordTokenizer{}

	chunks, err := c.Split(sentences(300, 10))
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.LessOrEqual(t, tok.Count(ch.Content), c.Config().TargetTokens,
			"chunk %d over budget", ch.Index)
	}
}

func TestSplitTwelveHundredTokensMakesTwoChunks(t *testing.T) {
	// 120 sentences of 10 tokens = 1200 tokens against a 768/75 config.
	c := newTestChunker(t, Config{TargetTokens: 768, OverlapTokens: 75})

	chunks, err := c.Split(sentences(120, 10))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSplitDeterministic(t *testing.T) {
	c := newTestChunker(t, Config{})
	text := sentences(250, 9)

	a, err := c.Split(text)
	require.NoError(t, err)
	b, err := c.Split(text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitOverlapCarriesTrailingContext(t *testing.T) {
	c := newTestChunker(t, Config{TargetTokens: 512, OverlapTokens: 50})

	chunks, err := c.Split(sentences(200, 10))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Each chunk after the first starts with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		first := strings.Fields(chunks[i].Content)[0]
		assert.Contains(t, chunks[i-1].Content, first,
			"chunk %d does not overlap chunk %d", i, i-1)
	}
}

func TestSplitOverCapFailsFast(t *testing.T) {
	c := newTestChunker(t, Config{})

	// 1001 paragraphs, each close enough to the budget to become one chunk.
	var b strings.Builder
	for i := 0; i < 1001; i++ {
		for w := 0; w < 400; w++ {
			fmt.Fprintf(&b, "p%dw%d ", i, w)
		}
		b.WriteString("\n\n")
	}

	chunks, err := c.Split(b.String())
	assert.ErrorIs(t, err, ErrSizeLimitExceeded)
	assert.Nil(t, chunks)
}

func TestSplitNoMidCodepointCuts(t *testing.T) {
	// runeTokenizer makes every rune a token, forcing hard splits through
	// multi-byte text.
	c, err := New(Config{TargetTokens: 512, OverlapTokens: 50},
		WithTokenizer(runeTokenizer{}))
	require.NoError(t, err)

	text := strings.Repeat("héllo wörld 世界 ", 400)
	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.True(t, strings.ToValidUTF8(ch.Content, "�") == ch.Content,
			"chunk %d contains invalid UTF-8", ch.Index)
	}
}

type runeTokenizer struct{}

func (runeTokenizer) Count(text string) int {
	return len([]rune(text))
}

func TestHardSplitBoundsPieces(t *testing.T) {
	c, err := New(Config{TargetTokens: 512, OverlapTokens: 50},
		WithTokenizer(runeTokenizer{}))
	require.NoError(t, err)

	pieces := c.hardSplit(strings.Repeat("a", 1000), 462)
	require.Len(t, pieces, 3)
	assert.Len(t, pieces[0], 462)
	assert.Len(t, pieces[1], 462)
	assert.Len(t, pieces[2], 76)
	assert.Equal(t, strings.Repeat("a", 1000), strings.Join(pieces, ""))
}
