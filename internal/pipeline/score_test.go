package pipeline

import (
	"strings"
	"testing"

	"github.com/cliplens/backend/internal/config"
)

func weights() config.Weights {
	return config.Weights{Keywords: 1.5, SpeechDensity: 1.0, OCR: 1.2}
}

func TestScoreScenario(t *testing.T) {
	transcript := "hook " + strings.Repeat("parola ", 59)
	transcript = strings.TrimSpace(transcript)
	got := Score("questo video è molto viral", transcript, "SEGUIMI", []string{"viral", "hook"}, weights())
	if got != 5.20 {
		t.Fatalf("expected 5.20, got %v", got)
	}
}

func TestScoreSilentInputs(t *testing.T) {
	if got := Score("empty", "", "", []string{"viral"}, weights()); got != 0.00 {
		t.Fatalf("expected 0.00, got %v", got)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	args := func() float64 {
		return Score("summary viral", "some spoken words here", "text", []string{"viral", "hook"}, weights())
	}
	if args() != args() {
		t.Fatalf("score not deterministic")
	}
}

func TestScoreCaseInsensitiveMatch(t *testing.T) {
	got := Score("VIRAL content", "", "", []string{"viral"}, weights())
	if got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
}

func TestScoreClampsToUpperBound(t *testing.T) {
	long := strings.Repeat("parola ", 60*100)
	got := Score("", long, "", nil, config.Weights{SpeechDensity: 10})
	if got != 100.0 {
		t.Fatalf("expected clamp at 100, got %v", got)
	}
}

func TestMatchKeywordsNormalizes(t *testing.T) {
	matched := MatchKeywords("Questo è VIRALE", "", []string{"  Virale ", "", "hook"})
	if len(matched) != 1 || matched[0] != "virale" {
		t.Fatalf("unexpected matches %v", matched)
	}
}
