package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cliplens/backend/internal/assetstore"
	"github.com/cliplens/backend/internal/config"
	"github.com/cliplens/backend/internal/library"
	"github.com/cliplens/backend/internal/llm"
	"github.com/cliplens/backend/internal/media"
	"github.com/cliplens/backend/internal/models"
	"github.com/cliplens/backend/internal/repositories"
)

type stubAssets struct{ paths map[string]string }

func (s stubAssets) Path(externalID string) (string, error) {
	p, ok := s.paths[externalID]
	if !ok {
		return "", assetstore.ErrAssetMissing
	}
	return p, nil
}

type stubSampler struct {
	frames []string
	err    error
}

func (s stubSampler) Sample(context.Context, string, int) (*media.Frames, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &media.Frames{Paths: s.frames}, nil
}

type stubOCR struct {
	text string
	err  error
}

func (s stubOCR) Recognize(context.Context, []string) (string, error) { return s.text, s.err }

type stubTranscriber struct {
	text   string
	err    error
	cancel context.CancelFunc
	wait   bool
}

func (s stubTranscriber) Transcribe(ctx context.Context, _, _ string) (string, error) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.wait {
		<-ctx.Done()
	}
	return s.text, s.err
}

type stubSummarizer struct {
	answers []string
	errs    []error
	calls   int
}

func (s *stubSummarizer) Summarize(context.Context, string) (string, error) {
	i := s.calls
	s.calls++
	var answer string
	if i < len(s.answers) {
		answer = s.answers[i]
	} else if len(s.answers) > 0 {
		answer = s.answers[len(s.answers)-1]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	} else if len(s.errs) > 0 {
		err = s.errs[len(s.errs)-1]
	}
	return answer, err
}

func (s *stubSummarizer) ModelID() string { return "stub-model" }

type stubAnalysisRepo struct {
	saved    []models.Analysis
	insights []models.AgentInsight
	saveErr  error
}

func (s *stubAnalysisRepo) Save(_ context.Context, a models.Analysis) (string, error) {
	s.saved = append(s.saved, a)
	return fmt.Sprintf("a%d", len(s.saved)), nil
}

func (s *stubAnalysisRepo) SaveAndLink(ctx context.Context, a models.Analysis, videoID string) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	return s.Save(ctx, a)
}

func (s *stubAnalysisRepo) FindByID(context.Context, string) (models.Analysis, error) {
	return models.Analysis{}, repositories.ErrNotFound
}

func (s *stubAnalysisRepo) ListForOwner(context.Context, int64, int) ([]models.Analysis, error) {
	return nil, nil
}

func (s *stubAnalysisRepo) ListSince(context.Context, int64, time.Time) ([]models.Analysis, error) {
	return nil, nil
}

func (s *stubAnalysisRepo) SaveInsight(_ context.Context, in models.AgentInsight) (string, error) {
	s.insights = append(s.insights, in)
	return fmt.Sprintf("i%d", len(s.insights)), nil
}

func (s *stubAnalysisRepo) InsightsForAnalysis(context.Context, string) ([]models.AgentInsight, error) {
	return nil, nil
}

type stubVideoRepo struct {
	failed []string
}

func (s *stubVideoRepo) Upsert(_ context.Context, v models.SavedVideo) (models.SavedVideo, error) {
	return v, nil
}

func (s *stubVideoRepo) FindByID(context.Context, string) (models.SavedVideo, error) {
	return models.SavedVideo{}, repositories.ErrNotFound
}

func (s *stubVideoRepo) ListByAnalysisState(context.Context, int64, models.AnalysisState) ([]models.SavedVideo, error) {
	return nil, nil
}

func (s *stubVideoRepo) ListWithAnalysis(context.Context, int64) ([]models.SavedVideo, error) {
	return nil, nil
}

func (s *stubVideoRepo) SetDownloadState(context.Context, string, models.DownloadState, string, int64) error {
	return nil
}

func (s *stubVideoRepo) MarkAnalyzed(context.Context, string, string) error { return nil }

func (s *stubVideoRepo) MarkAnalysisFailed(_ context.Context, videoID string) error {
	s.failed = append(s.failed, videoID)
	return nil
}

func (s *stubVideoRepo) ResetToNew(context.Context, string) error { return nil }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Keywords = []string{"viral", "hook"}
	cfg.LLM.MaxRetries = 3
	return cfg
}

// sixtyWords builds a transcript of exactly sixty words including "hook".
func sixtyWords() string {
	words := "hook"
	for i := 1; i < 60; i++ {
		words += fmt.Sprintf(" parola%d", i)
	}
	return words
}

func newTestPipeline(cfg config.Config, deps Deps) (*Pipeline, *[]time.Duration) {
	p := New(cfg, deps)
	var slept []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestAnalyzeHappyPath(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Sampler:     stubSampler{frames: []string{"f1.jpg"}},
		OCR:         stubOCR{text: "LINK IN BIO"},
		Transcriber: stubTranscriber{text: sixtyWords()},
		Summarizer:  &stubSummarizer{answers: []string{"il video apre con un hook ed e molto viral"}},
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", OwnerID: 1, ExternalID: "ext1", Title: "clip"})
	if !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	// 2 keywords x 1.5 + 60/60 x 1.0 + 1.2 = 5.20
	if res.Score != 5.20 {
		t.Fatalf("expected score 5.20, got %v", res.Score)
	}
	if len(analyses.saved) != 1 {
		t.Fatalf("expected one analysis, got %d", len(analyses.saved))
	}
	saved := analyses.saved[0]
	if saved.ModelID != "stub-model" || saved.VideoTitle != "clip" {
		t.Fatalf("unexpected analysis %+v", saved)
	}
	if len(saved.Keywords) != 2 {
		t.Fatalf("expected both keywords matched, got %v", saved.Keywords)
	}
	if len(videos.failed) != 0 {
		t.Fatalf("no video should fail on the happy path")
	}
}

func TestAnalyzeAssetMissing(t *testing.T) {
	videos := &stubVideoRepo{}
	deps := Deps{
		Assets:     stubAssets{paths: map[string]string{}},
		Summarizer: &stubSummarizer{},
		Analyses:   &stubAnalysisRepo{},
		Library:    library.New(videos, nil),
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "absent"})
	if res.OK || res.Kind != KindAssetMissing {
		t.Fatalf("expected asset_missing failure, got %+v", res)
	}
	if len(videos.failed) != 1 || videos.failed[0] != "v1" {
		t.Fatalf("expected v1 moved to error, got %v", videos.failed)
	}
}

func TestAnalyzeSummarizerOutage(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	summarizer := &stubSummarizer{errs: []error{llm.ErrBackend}}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Sampler:     stubSampler{frames: []string{"f1.jpg"}},
		OCR:         stubOCR{},
		Transcriber: stubTranscriber{text: "qualcosa"},
		Summarizer:  summarizer,
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, slept := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if res.OK || res.Kind != KindSummarizerBackend {
		t.Fatalf("expected summarizer_backend failure, got %+v", res)
	}
	if summarizer.calls != 4 {
		t.Fatalf("expected initial call plus 3 retries, got %d calls", summarizer.calls)
	}
	if len(*slept) != 3 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second || (*slept)[2] != 4*time.Second {
		t.Fatalf("unexpected backoff schedule %v", *slept)
	}
	if len(analyses.saved) != 0 {
		t.Fatalf("no analysis row may be written on outage")
	}
	if len(videos.failed) != 1 {
		t.Fatalf("expected video in error, got %v", videos.failed)
	}
}

func TestAnalyzeRetryRecovers(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	summarizer := &stubSummarizer{
		answers: []string{"", "recovered summary"},
		errs:    []error{llm.ErrTimeout, nil},
	}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Transcriber: stubTranscriber{text: "testo"},
		Summarizer:  summarizer,
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, slept := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if !res.OK {
		t.Fatalf("expected recovery on retry, got %+v", res)
	}
	if summarizer.calls != 2 || len(*slept) != 1 {
		t.Fatalf("expected one retry, calls=%d slept=%v", summarizer.calls, *slept)
	}
}

func TestAnalyzeSilentVideo(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Sampler:     stubSampler{frames: []string{"f1.jpg"}},
		OCR:         stubOCR{text: ""},
		Transcriber: stubTranscriber{text: ""},
		Summarizer:  &stubSummarizer{answers: []string{"empty"}},
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if !res.OK {
		t.Fatalf("silent video must still analyze, got %+v", res)
	}
	if res.Score != 0.00 {
		t.Fatalf("expected score 0.00, got %v", res.Score)
	}
}

func TestAnalyzeNonFatalStageFailures(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Sampler:     stubSampler{err: media.ErrAssetUnreadable},
		OCR:         stubOCR{err: media.ErrOCRUnavailable},
		Transcriber: stubTranscriber{err: media.ErrTranscriberUnavailable},
		Summarizer:  &stubSummarizer{answers: []string{"analysis without media text"}},
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if !res.OK {
		t.Fatalf("stage 2-4 failures are non-fatal, got %+v", res)
	}
	if len(videos.failed) != 0 {
		t.Fatalf("video must not fail, got %v", videos.failed)
	}
}

func TestAnalyzeCancellationLeavesVideoNew(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Transcriber: stubTranscriber{text: "testo", cancel: cancel},
		Summarizer:  &stubSummarizer{answers: []string{"never used"}},
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(ctx, models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if res.OK || res.Kind != KindCanceled {
		t.Fatalf("expected canceled result, got %+v", res)
	}
	if len(videos.failed) != 0 {
		t.Fatalf("cancellation must not move the video to error")
	}
	if len(analyses.saved) != 0 {
		t.Fatalf("cancellation must not write an analysis")
	}
}

func TestAnalyzeDeadlineEscalatesToError(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	cfg := testConfig()
	cfg.MaxVideoDuration = 1
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Transcriber: stubTranscriber{wait: true, err: media.ErrTranscriberUnavailable},
		Summarizer:  &stubSummarizer{answers: []string{"never used"}},
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, _ := newTestPipeline(cfg, deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if res.OK || res.Kind != KindDeadline {
		t.Fatalf("expected deadline failure, got %+v", res)
	}
	if len(videos.failed) != 1 || videos.failed[0] != "v1" {
		t.Fatalf("deadline expiry must move the video to error, got %v", videos.failed)
	}
	if len(analyses.saved) != 0 {
		t.Fatalf("no analysis may be written after the deadline")
	}
}

func TestAnalyzePersistFailure(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{saveErr: errors.New("connection reset")}
	deps := Deps{
		Assets:      stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Transcriber: stubTranscriber{text: "testo"},
		Summarizer:  &stubSummarizer{answers: []string{"summary"}},
		Analyses:    analyses,
		Library:     library.New(videos, nil),
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if res.OK || res.Kind != KindPersist {
		t.Fatalf("expected persist failure, got %+v", res)
	}
	if len(videos.failed) != 1 {
		t.Fatalf("persist failure must move the video to error")
	}
}

func TestAnalyzeRecordsInsightsWhenEnabled(t *testing.T) {
	videos := &stubVideoRepo{}
	analyses := &stubAnalysisRepo{}
	deps := Deps{
		Assets:         stubAssets{paths: map[string]string{"ext1": "/cache/ext1.mp4"}},
		Transcriber:    stubTranscriber{text: "testo"},
		Summarizer:     &stubSummarizer{answers: []string{"summary text"}},
		Analyses:       analyses,
		Library:        library.New(videos, nil),
		EnableInsights: true,
	}
	p, _ := newTestPipeline(testConfig(), deps)

	res := p.Analyze(context.Background(), models.SavedVideo{ID: "v1", ExternalID: "ext1"})
	if !res.OK {
		t.Fatalf("analyze: %+v", res)
	}
	if len(analyses.insights) != 3 {
		t.Fatalf("expected 3 insights, got %d", len(analyses.insights))
	}
	roles := map[string]bool{}
	for _, in := range analyses.insights {
		roles[in.Role] = true
		if in.AnalysisID != res.AnalysisID {
			t.Fatalf("insight bound to %q, want %q", in.AnalysisID, res.AnalysisID)
		}
	}
	if !roles[models.InsightRoleAnalyst] || !roles[models.InsightRoleStrategist] || !roles[models.InsightRoleCopywriter] {
		t.Fatalf("missing insight roles: %v", roles)
	}
}
