package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// ErrUnknownPrompt reports a request for a prompt name the catalog does not
// carry.
var ErrUnknownPrompt = errors.New("unknown prompt")

// PromptParams carries every field any catalog template may reference.
// Templates ignore the fields they do not use.
type PromptParams struct {
	Transcript    string
	OCRText       string
	Language      string
	Keywords      []string
	TargetScore   float64
	CurrentTrends []string
}

// KeywordList renders the keywords as a comma-separated string for templates.
func (p PromptParams) KeywordList() string { return strings.Join(p.Keywords, ", ") }

// TrendList renders the current trends as a comma-separated string.
func (p PromptParams) TrendList() string { return strings.Join(p.CurrentTrends, ", ") }

// Catalog is a registry of named prompt builders. Builders are pure: the
// same params always produce the same prompt text.
type Catalog struct {
	templates map[string]*template.Template
}

const (
	summaryPrompt = `You are a short-video content analyst. Analyze the following video material.

Transcript:
{{.Transcript}}

On-screen text (OCR):
{{.OCRText}}

Write a narrative analysis in {{.Language}} covering: the content and its theme, the emotions it conveys, and whether the video opens with a hook in the first seconds. Be concrete and concise.`

	engagementPrompt = `You are a short-video engagement analyst. Given this material:

Transcript:
{{.Transcript}}

On-screen text (OCR):
{{.OCRText}}

Score each factor from 0 to 10: clarity, emotionality, call_to_action, relevance, originality, timing. Respond with a single JSON object using exactly those six keys and integer values, plus a "notes" string in {{.Language}}.`

	viralPotentialPrompt = `Assess the viral potential of this short video.

Transcript:
{{.Transcript}}

On-screen text (OCR):
{{.OCRText}}

Target keywords: {{.KeywordList}}

Respond with a JSON object: {"viral_score": 0-100, "strengths": [...], "weaknesses": [...], "verdict": "..."}. Write strings in {{.Language}}.`

	optimizationPrompt = `This short video currently scores {{printf "%.2f" .TargetScore}} out of 100.

Transcript:
{{.Transcript}}

On-screen text (OCR):
{{.OCRText}}

List the changes that would raise the score, ordered by expected impact, most impactful first. Answer in {{.Language}} as a numbered list.`

	audiencePrompt = `Profile the audience this short video speaks to.

Transcript:
{{.Transcript}}

On-screen text (OCR):
{{.OCRText}}

Describe the demographic profile (age range, interests) and the psychographic profile (values, motivations, viewing habits). Answer in {{.Language}}.`

	trendPrompt = `Judge how well this short video aligns with what is currently trending.

Transcript:
{{.Transcript}}

On-screen text (OCR):
{{.OCRText}}

Current trends: {{.TrendList}}

For each trend, state whether the video aligns with it and why. Close with an overall alignment assessment. Answer in {{.Language}}.`
)

// NewCatalog builds the fixed catalog with every named prompt registered.
func NewCatalog() *Catalog {
	c := &Catalog{templates: make(map[string]*template.Template)}
	for name, text := range map[string]string{
		"summary":         summaryPrompt,
		"engagement":      engagementPrompt,
		"viral_potential": viralPotentialPrompt,
		"optimization":    optimizationPrompt,
		"audience":        audiencePrompt,
		"trend":           trendPrompt,
	} {
		c.templates[name] = template.Must(template.New(name).Parse(text))
	}
	return c
}

// Build renders the named prompt with the given parameters.
func (c *Catalog) Build(name string, params PromptParams) (string, error) {
	tmpl, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPrompt, name)
	}
	if params.Language == "" {
		params.Language = "it"
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, params); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}

// Names lists the registered prompt names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
