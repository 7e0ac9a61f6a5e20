// Package trends computes read-only aggregations over an owner's analyses:
// keyword frequencies, emotion counts, time series, and theme scores.
package trends

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/repositories"
)

const (
	maxKeywords = 20
	maxEmotions = 10
)

// emotionLexicon maps an emotion to the words that signal it in a summary.
// Emotions are scanned in alphabetical order and the first hit wins, so each
// analysis contributes at most one emotion.
var emotionLexicon = []struct {
	emotion string
	words   []string
}{
	{"anger", []string{"arrabbiato", "rabbia", "furioso", "indignato"}},
	{"fear", []string{"paura", "ansia", "spavento", "timore"}},
	{"happiness", []string{"felice", "contento", "gioia", "allegria", "entusiasmo"}},
	{"sadness", []string{"triste", "tristezza", "malinconia", "nostalgia"}},
	{"surprise", []string{"sorpresa", "incredibile", "inaspettato", "stupore"}},
}

// themeTaxonomy maps each content theme to its child keywords. A theme's
// score is the sum of its children's keyword counts.
var themeTaxonomy = []struct {
	theme string
	words []string
}{
	{"motivation", []string{"motivazione", "successo", "crescita", "obiettivi", "disciplina", "mindset"}},
	{"entertainment", []string{"divertente", "meme", "comico", "show", "musica", "challenge"}},
	{"education", []string{"tutorial", "imparare", "corso", "spiegazione", "studio", "consigli"}},
	{"lifestyle", []string{"vlog", "routine", "viaggio", "moda", "cibo", "fitness"}},
	{"tech", []string{"tech", "tecnologia", "ai", "app", "gadget", "smartphone"}},
	{"business", []string{"business", "soldi", "marketing", "vendite", "startup", "investimenti"}},
}

// KeywordCount is one row of the keyword frequency table.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// EmotionCount is one row of the emotion frequency table.
type EmotionCount struct {
	Emotion string `json:"emotion"`
	Count   int    `json:"count"`
}

// TrendPoint is one row of the time series consumed by chart clients. Value
// carries the keyword itself for type=keyword and the formatted score for
// type=score.
type TrendPoint struct {
	Date        time.Time `json:"date"`
	Type        string    `json:"type"`
	Value       string    `json:"value"`
	AnalysisRef string    `json:"analysis_ref"`
}

// ThemeScore is one row of the theme table, ordered by descending score.
type ThemeScore struct {
	Theme string `json:"theme"`
	Score int    `json:"score"`
}

// Aggregator answers trend queries for one lookback window at a time.
type Aggregator struct {
	analyses repositories.AnalysisRepository

	// now is swapped out in tests for a fixed clock.
	now func() time.Time
}

// New returns an aggregator over the analysis repository.
func New(analyses repositories.AnalysisRepository) *Aggregator {
	return &Aggregator{analyses: analyses, now: time.Now}
}

func (a *Aggregator) window(ctx context.Context, ownerID int64, days int) ([]models.Analysis, error) {
	if days < 1 {
		return nil, fmt.Errorf("trends: lookback days %d must be positive", days)
	}
	since := a.now().AddDate(0, 0, -days)
	return a.analyses.ListSince(ctx, ownerID, since)
}

// AggregateKeywords counts normalized keywords across the window and returns
// the top 20 by frequency, ties broken alphabetically.
func (a *Aggregator) AggregateKeywords(ctx context.Context, ownerID int64, days int) ([]KeywordCount, error) {
	window, err := a.window(ctx, ownerID, days)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, analysis := range window {
		for _, kw := range analysis.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				counts[kw]++
			}
		}
	}

	out := make([]KeywordCount, 0, len(counts))
	for kw, n := range counts {
		out = append(out, KeywordCount{Keyword: kw, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out, nil
}

// AggregateEmotions scans summaries against the emotion lexicon, counting at
// most one emotion per analysis, and returns the top 10.
func (a *Aggregator) AggregateEmotions(ctx context.Context, ownerID int64, days int) ([]EmotionCount, error) {
	window, err := a.window(ctx, ownerID, days)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, analysis := range window {
		if emotion, ok := classifyEmotion(analysis.Summary); ok {
			counts[emotion]++
		}
	}

	out := make([]EmotionCount, 0, len(counts))
	for emotion, n := range counts {
		out = append(out, EmotionCount{Emotion: emotion, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emotion < out[j].Emotion
	})
	if len(out) > maxEmotions {
		out = out[:maxEmotions]
	}
	return out, nil
}

func classifyEmotion(summary string) (string, bool) {
	haystack := strings.ToLower(summary)
	for _, entry := range emotionLexicon {
		for _, word := range entry.words {
			if strings.Contains(haystack, word) {
				return entry.emotion, true
			}
		}
	}
	return "", false
}

// TrendOverTime emits one score row and one row per keyword for every
// analysis in the window, ordered by creation time.
func (a *Aggregator) TrendOverTime(ctx context.Context, ownerID int64, days int) ([]TrendPoint, error) {
	window, err := a.window(ctx, ownerID, days)
	if err != nil {
		return nil, err
	}

	sort.Slice(window, func(i, j int) bool { return window[i].CreatedAt.Before(window[j].CreatedAt) })

	var out []TrendPoint
	for _, analysis := range window {
		out = append(out, TrendPoint{
			Date:        analysis.CreatedAt,
			Type:        "score",
			Value:       fmt.Sprintf("%.2f", analysis.OverallScore),
			AnalysisRef: analysis.ID,
		})
		for _, kw := range analysis.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				out = append(out, TrendPoint{
					Date:        analysis.CreatedAt,
					Type:        "keyword",
					Value:       kw,
					AnalysisRef: analysis.ID,
				})
			}
		}
	}
	return out, nil
}

// ContentThemes folds keyword counts into the fixed theme taxonomy and
// returns themes with a non-zero score, ordered descending.
func (a *Aggregator) ContentThemes(ctx context.Context, ownerID int64, days int) ([]ThemeScore, error) {
	keywords, err := a.AggregateKeywords(ctx, ownerID, days)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(keywords))
	for _, kc := range keywords {
		counts[kc.Keyword] = kc.Count
	}

	var out []ThemeScore
	for _, entry := range themeTaxonomy {
		score := 0
		for _, word := range entry.words {
			score += counts[word]
		}
		if score > 0 {
			out = append(out, ThemeScore{Theme: entry.theme, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Theme < out[j].Theme
	})
	return out, nil
}
