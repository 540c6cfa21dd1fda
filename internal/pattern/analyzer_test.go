package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicAnalyzerAnalyze(t *testing.T) {
	a := NewHeuristicAnalyzer()

	t.Run("empty payload scores zero", func(t *testing.T) {
		res, err := a.Analyze(nil, CategoryWisdom)
		require.NoError(t, err)
		assert.Zero(t, res.Confidence)
		assert.Zero(t, res.Significance)
	})

	t.Run("numeric payload", func(t *testing.T) {
		res, err := a.Analyze(map[string]any{"clarity": 0.8, "depth": 0.6}, CategoryWisdom)
		require.NoError(t, err)
		// all-numeric payload with mean 0.7
		assert.InDelta(t, 0.85, res.Confidence, 1e-9)
		assert.InDelta(t, 0.7, res.Significance, 1e-9)
		assert.InDelta(t, 0.2, res.Complexity, 1e-9)
	})

	t.Run("non-numeric payload carries weak signal", func(t *testing.T) {
		res, err := a.Analyze(map[string]any{"note": "hello"}, CategoryWisdom)
		require.NoError(t, err)
		assert.InDelta(t, 0.3, res.Confidence, 1e-9)
		assert.InDelta(t, 0.3, res.Significance, 1e-9)
	})

	t.Run("mixed payload discounts confidence", func(t *testing.T) {
		res, err := a.Analyze(map[string]any{"clarity": 1.0, "note": "hello"}, CategoryWisdom)
		require.NoError(t, err)
		// half the keys numeric, mean 1.0
		assert.InDelta(t, 0.5, res.Confidence, 1e-9)
	})
}

func TestHeuristicAnalyzerSimilarity(t *testing.T) {
	a := NewHeuristicAnalyzer()

	tests := []struct {
		name string
		x, y map[string]any
		want float64
	}{
		{"both empty", nil, nil, 1.0},
		{"identical", map[string]any{"clarity": 0.8}, map[string]any{"clarity": 0.8}, 1.0},
		{"disjoint keys", map[string]any{"a": 1.0}, map[string]any{"b": 1.0}, 0.0},
		{"numeric proximity", map[string]any{"score": 1.0}, map[string]any{"score": 0.9}, 0.9},
		{"string match", map[string]any{"kind": "x"}, map[string]any{"kind": "x"}, 1.0},
		{"string mismatch", map[string]any{"kind": "x"}, map[string]any{"kind": "y"}, 0.0},
		{"both zero", map[string]any{"score": 0.0}, map[string]any{"score": 0.0}, 1.0},
		{
			"half overlap",
			map[string]any{"clarity": 0.8, "depth": 0.7},
			map[string]any{"clarity": 0.8, "focus": 0.9},
			1.0 / 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, a.Similarity(tt.x, tt.y), 1e-9)
			assert.InDelta(t, tt.want, a.Similarity(tt.y, tt.x), 1e-9, "similarity must be symmetric")
		})
	}
}
