package pattern

// EvolutionTrend summarizes how a pattern's merge history is trending.
type EvolutionTrend struct {
	// FrequencyTrend is "increasing", "decreasing", or "stable".
	FrequencyTrend string `json:"frequency_trend"`

	// DataStability is the mean similarity between consecutive evolution
	// snapshots, in [0,1]. 1.0 means the payload has stopped changing.
	DataStability float64 `json:"data_stability"`
}

// AnalyzeEvolution derives trend information from a pattern's recent
// evolution history. At most the last five entries are considered. With
// fewer than two entries the trend is stable and stability is 1.0.
func AnalyzeEvolution(p *Pattern, analyzer Analyzer) EvolutionTrend {
	recent := p.Evolution
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	return EvolutionTrend{
		FrequencyTrend: frequencyTrend(recent),
		DataStability:  dataStability(recent, analyzer),
	}
}

// frequencyTrend compares the mean of the last three frequency samples
// against the earlier ones. More than a 20% rise is increasing, more than
// a 20% drop is decreasing.
func frequencyTrend(entries []EvolutionEntry) string {
	if len(entries) < 2 {
		return "stable"
	}

	freqs := make([]float64, len(entries))
	for i, e := range entries {
		freqs[i] = float64(e.Frequency)
	}

	split := len(freqs) - 3
	if split < 1 {
		split = 1
	}
	recentAvg := mean(freqs[split:])
	earlierAvg := mean(freqs[:split])

	switch {
	case recentAvg > earlierAvg*1.2:
		return "increasing"
	case recentAvg < earlierAvg*0.8:
		return "decreasing"
	default:
		return "stable"
	}
}

func dataStability(entries []EvolutionEntry, analyzer Analyzer) float64 {
	if len(entries) < 2 {
		return 1.0
	}
	total := 0.0
	for i := 1; i < len(entries); i++ {
		total += analyzer.Similarity(entries[i-1].Snapshot, entries[i].Snapshot)
	}
	return total / float64(len(entries)-1)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
