package review

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lailoo/vibe-blog/internal/search"
)

// Research runs up to two search rounds for a chapter summary. Round one
// uses the analyzer's queries; round two pairs the topic with key terms.
// Duplicate URLs are dropped across rounds.
func Research(ctx context.Context, s search.Searcher, summary ContentSummary, maxRounds, perRound int, log *zap.SugaredLogger) []Hit {
	if s == nil {
		return nil
	}
	if perRound <= 0 {
		perRound = 5
	}
	seen := map[string]bool{}
	var out []Hit
	run := func(round int, queries []string, count int) {
		for _, q := range queries {
			if ctx.Err() != nil {
				return
			}
			results, err := s.Search(ctx, q, count)
			if err != nil {
				log.Warnw("search failed", "query", q, "error", err)
				continue
			}
			for _, r := range results {
				if seen[r.URL] {
					continue
				}
				seen[r.URL] = true
				out = append(out, Hit{Query: q, Round: round, URL: r.URL, Title: r.Title, Snippet: r.Content})
			}
		}
	}

	if len(summary.SearchQueries) > 0 {
		run(1, firstN(summary.SearchQueries, 3), perRound/3+1)
	}
	if maxRounds >= 2 && len(summary.KeyTerms) > 0 {
		terms := firstN(summary.KeyTerms, 2)
		queries := make([]string, 0, len(terms))
		for _, t := range terms {
			queries = append(queries, summary.Topic+" "+t)
		}
		run(2, queries, 2)
	}
	return out
}

// Relevance scores a hit against a summary on a 0..1 scale: topic mention
// (0.3), share of key terms present (0.4), share of core points sharing at
// least two words with the hit (0.3).
func Relevance(h Hit, s ContentSummary) float64 {
	body := strings.ToLower(h.Title + " " + h.Snippet)
	score := 0.0
	if s.Topic != "" && strings.Contains(body, strings.ToLower(s.Topic)) {
		score += 0.3
	}
	if len(s.KeyTerms) > 0 {
		matched := 0
		for _, t := range s.KeyTerms {
			if strings.Contains(body, strings.ToLower(t)) {
				matched++
			}
		}
		score += 0.4 * float64(matched) / float64(len(s.KeyTerms))
	}
	if len(s.CorePoints) > 0 {
		words := wordSet(body)
		matched := 0
		for _, p := range s.CorePoints {
			common := 0
			for w := range wordSet(strings.ToLower(p)) {
				if words[w] {
					common++
				}
			}
			if common >= 2 {
				matched++
			}
		}
		score += 0.3 * float64(matched) / float64(len(s.CorePoints))
	}
	if score > 1 {
		score = 1
	}
	return score
}

// SelectReferences scores hits, drops those under minRelevance and keeps
// the topK best.
func SelectReferences(hits []Hit, s ContentSummary, minRelevance float64, topK int) []Hit {
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		h.Relevance = Relevance(h, s)
		if h.Relevance >= minRelevance {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// FormatForPrompt renders references as a numbered list.
func FormatForPrompt(refs []Hit) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range refs {
		fmt.Fprintf(&b, "[%d] %s\n    %s\n    %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return strings.TrimRight(b.String(), "\n")
}

func domain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(s) {
		out[w] = true
	}
	return out
}

func firstN(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
