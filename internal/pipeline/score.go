package pipeline

import (
	"math"
	"strings"

	"github.com/cliplens/backend/internal/config"
	"github.com/cliplens/backend/internal/models"
)

// MatchKeywords returns the configured keywords that appear, case-insensitive,
// in either the summary or the transcript. The result preserves configuration
// order.
func MatchKeywords(summary, transcript string, keywords []string) []string {
	haystack := strings.ToLower(summary + "\n" + transcript)

	var matched []string
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			matched = append(matched, needle)
		}
	}
	return matched
}

// Score computes the overall score for one analysis. The same inputs always
// produce the same value:
//
//   - each matched keyword contributes weights.keywords,
//   - transcript words divided by 60 contribute weights.speech_density each,
//   - non-empty OCR text contributes weights.ocr once.
//
// Engagement and viral-potential weights contribute nothing here; their
// signals arrive from outside the pipeline. The sum is clamped to the score
// bounds and rounded to two decimals.
func Score(summary, transcript, ocrText string, keywords []string, w config.Weights) float64 {
	matched := MatchKeywords(summary, transcript, keywords)

	total := float64(len(matched)) * w.Keywords

	words := len(strings.Fields(transcript))
	total += w.SpeechDensity * float64(words) / 60.0

	if strings.TrimSpace(ocrText) != "" {
		total += w.OCR
	}

	if total < models.ScoreMin {
		total = models.ScoreMin
	}
	if total > models.ScoreMax {
		total = models.ScoreMax
	}
	return math.Round(total*100) / 100
}
