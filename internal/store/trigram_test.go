package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigrams(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "single word padded like pg_trgm",
			text: "cat",
			want: []string{"  c", " ca", "cat", "at "},
		},
		{
			name: "case folded",
			text: "CAT",
			want: []string{"  c", " ca", "cat", "at "},
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "  \t\n ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trigrams(tt.text)
			assert.Len(t, got, len(tt.want))
			for _, tri := range tt.want {
				assert.Contains(t, got, tri)
			}
		})
	}
}

func TestTrigramsMultiWord(t *testing.T) {
	// Each word is padded independently, so word order does not matter.
	assert.Equal(t, trigrams("quick fox"), trigrams("fox quick"))
}

func TestTrigramSimilarity(t *testing.T) {
	a := trigrams("database indexing")
	b := trigrams("database sharding")
	c := trigrams("holiday photos")

	t.Run("identical sets score one", func(t *testing.T) {
		assert.InDelta(t, 1.0, trigramSimilarity(a, trigrams("database indexing")), 1e-9)
	})

	t.Run("disjoint sets score zero", func(t *testing.T) {
		assert.Zero(t, trigramSimilarity(a, c))
	})

	t.Run("partial overlap lands strictly between", func(t *testing.T) {
		got := trigramSimilarity(a, b)
		assert.Greater(t, got, 0.0)
		assert.Less(t, got, 1.0)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.Equal(t, trigramSimilarity(a, b), trigramSimilarity(b, a))
	})

	t.Run("empty operand scores zero", func(t *testing.T) {
		assert.Zero(t, trigramSimilarity(a, trigrams("")))
		assert.Zero(t, trigramSimilarity(trigrams(""), a))
	})
}
