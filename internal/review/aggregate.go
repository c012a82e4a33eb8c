package review

import (
	"fmt"
	"strings"

	"github.com/lailoo/vibe-blog/internal/config"
)

var weightTable = map[ContentType]config.Weights{
	TechnicalTutorial: {Depth: 0.25, Accuracy: 0.25, Completeness: 0.15, Logic: 0.15, Readability: 0.20},
	SciencePopular:    {Depth: 0.15, Accuracy: 0.20, Completeness: 0.15, Logic: 0.15, Readability: 0.35},
	Documentation:     {Depth: 0.20, Accuracy: 0.30, Completeness: 0.25, Logic: 0.15, Readability: 0.10},
	News:              {Depth: 0.10, Accuracy: 0.35, Completeness: 0.20, Logic: 0.15, Readability: 0.20},
	Opinion:           {Depth: 0.20, Accuracy: 0.15, Completeness: 0.15, Logic: 0.30, Readability: 0.20},
	Unknown:           {Depth: 0.20, Accuracy: 0.20, Completeness: 0.20, Logic: 0.20, Readability: 0.20},
}

// WeightsFor returns the weights for a content type. custom, when set,
// applies to every type.
func WeightsFor(ct ContentType, custom *config.Weights) config.Weights {
	if custom != nil {
		return *custom
	}
	if w, ok := weightTable[ct]; ok {
		return w
	}
	return weightTable[Unknown]
}

// Aggregate combines the three passes into an overall 0..100 score.
func Aggregate(d DepthResult, q QualityResult, r ReadabilityResult, ct ContentType, custom *config.Weights) (int, DimensionScores) {
	w := WeightsFor(ct, custom)
	dims := DimensionScores{
		Depth:        d.Score,
		Accuracy:     q.AccuracyScore,
		Completeness: q.CompletenessScore,
		Logic:        q.LogicScore,
		Clarity:      r.VocabularyScore,
		Readability:  r.Score,
	}
	total := w.Depth*float64(d.Score) +
		w.Accuracy*float64(q.AccuracyScore) +
		w.Completeness*float64(q.CompletenessScore) +
		w.Logic*float64(q.LogicScore) +
		w.Readability*float64(r.Score)
	// truncate, not round; the epsilon only absorbs float error so that
	// 0.2*70*5 is 70, not 69
	return int(total + 1e-9), dims
}

func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// Summary is a one-paragraph verdict naming the weakest dimension when it
// lags, or the strongest when it stands out.
func Summary(overall int, dims DimensionScores, issueCount int) string {
	named := []struct {
		name  string
		score int
	}{
		{"depth", dims.Depth},
		{"accuracy", dims.Accuracy},
		{"completeness", dims.Completeness},
		{"logic", dims.Logic},
		{"readability", dims.Readability},
	}
	weakest, strongest := named[0], named[0]
	for _, n := range named[1:] {
		if n.score < weakest.score {
			weakest = n
		}
		if n.score > strongest.score {
			strongest = n
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Overall score %d (%s).", overall, Grade(overall))
	if issueCount > 0 {
		fmt.Fprintf(&b, " Found %d issues.", issueCount)
	}
	switch {
	case weakest.score < 70:
		fmt.Fprintf(&b, " Focus on improving %s.", weakest.name)
	case strongest.score >= 85:
		fmt.Fprintf(&b, " Strong %s.", strongest.name)
	}
	return b.String()
}
