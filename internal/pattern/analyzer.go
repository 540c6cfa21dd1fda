package pattern

import (
	"fmt"
	"math"
)

// AnalysisResult carries the scores produced for one observation payload.
type AnalysisResult struct {
	Confidence   float64 `json:"confidence"`
	Significance float64 `json:"significance"`
	Complexity   float64 `json:"complexity"`
}

// Analyzer scores observation payloads and measures payload similarity.
//
// Similarity must be symmetric and return a value in [0,1]. Implementations
// are heuristic; the detector only depends on the contract, not on any
// statistical validity of the scores.
type Analyzer interface {
	Analyze(payload map[string]any, category Category) (AnalysisResult, error)
	Similarity(a, b map[string]any) float64
}

// HeuristicAnalyzer is the default Analyzer. Confidence reflects how much
// numeric signal the payload carries, significance the mean of its numeric
// values, complexity the key count.
type HeuristicAnalyzer struct{}

// NewHeuristicAnalyzer returns the default payload analyzer.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{}
}

// Analyze scores a payload for the given category.
func (a *HeuristicAnalyzer) Analyze(payload map[string]any, category Category) (AnalysisResult, error) {
	if len(payload) == 0 {
		return AnalysisResult{}, nil
	}

	var numeric []float64
	for _, v := range payload {
		if f, ok := toFloat(v); ok {
			numeric = append(numeric, f)
		}
	}

	res := AnalysisResult{
		Complexity: clamp01(float64(len(payload)) / 10.0),
	}
	if len(numeric) == 0 {
		// Non-numeric payloads carry weak signal only.
		res.Confidence = 0.3
		res.Significance = 0.3
		return res, nil
	}

	sum := 0.0
	for _, f := range numeric {
		sum += f
	}
	mean := sum / float64(len(numeric))

	res.Significance = clamp01(mean)
	res.Confidence = clamp01(float64(len(numeric)) / float64(len(payload)) * (0.5 + mean/2.0))
	return res, nil
}

// Similarity compares two payloads key by key. Numeric values contribute a
// proximity score, other values an exact-match score; keys present on only
// one side count as zero. Symmetric by construction.
func (a *HeuristicAnalyzer) Similarity(x, y map[string]any) float64 {
	if len(x) == 0 && len(y) == 0 {
		return 1.0
	}

	keys := make(map[string]struct{}, len(x)+len(y))
	for k := range x {
		keys[k] = struct{}{}
	}
	for k := range y {
		keys[k] = struct{}{}
	}

	total := 0.0
	for k := range keys {
		xv, xok := x[k]
		yv, yok := y[k]
		if !xok || !yok {
			continue
		}
		xf, xn := toFloat(xv)
		yf, yn := toFloat(yv)
		switch {
		case xn && yn:
			denom := math.Max(math.Abs(xf), math.Abs(yf))
			if denom == 0 {
				total += 1.0
			} else {
				total += 1.0 - math.Min(1.0, math.Abs(xf-yf)/denom)
			}
		default:
			if fmt.Sprint(xv) == fmt.Sprint(yv) {
				total += 1.0
			}
		}
	}
	return total / float64(len(keys))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}
