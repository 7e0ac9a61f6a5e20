package models

import "time"

// LibraryOwner represents the principal who owns a library of saved videos.
type LibraryOwner struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// DownloadState tracks whether a saved video's bytes have reached the local cache.
type DownloadState string

const (
	DownloadPending    DownloadState = "pending"
	DownloadDownloaded DownloadState = "downloaded"
	DownloadFailed     DownloadState = "failed"
)

// Valid reports whether the value is one of the closed download states.
func (s DownloadState) Valid() bool {
	switch s {
	case DownloadPending, DownloadDownloaded, DownloadFailed:
		return true
	}
	return false
}

// AnalysisState tracks a saved video's position in the analysis lifecycle.
// "new" is the sole initial state; "analyzed" and "error" are reached only
// from "new" through the library state machine.
type AnalysisState string

const (
	AnalysisNew      AnalysisState = "new"
	AnalysisAnalyzed AnalysisState = "analyzed"
	AnalysisError    AnalysisState = "error"
)

// Valid reports whether the value is one of the closed analysis states.
func (s AnalysisState) Valid() bool {
	switch s {
	case AnalysisNew, AnalysisAnalyzed, AnalysisError:
		return true
	}
	return false
}

// SavedVideo is a per-owner reference to a remote short video together with
// its download and analysis lifecycle. (OwnerID, ExternalID) is unique.
type SavedVideo struct {
	ID            string
	OwnerID       int64
	ExternalID    string
	SourceURL     string
	Title         string
	CreatorHandle string
	Views         *int64
	Likes         *int64
	Comments      *int64
	Shares        *int64
	DownloadState DownloadState
	AnalysisState AnalysisState
	LocalAssetRef string
	AnalysisRef   string
	FirstSeenAt   time.Time
	DownloadedAt  *time.Time
	AnalyzedAt    *time.Time
}

// Recommendation is one actionable suggestion attached to an analysis.
type Recommendation struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Analysis is the immutable product of one pipeline run over one video.
// OverallScore is bounded to [ScoreMin, ScoreMax] and enforced at write time.
type Analysis struct {
	ID              string
	OwnerID         int64
	VideoTitle      string
	OverallScore    float64
	EngagementRate  *float64
	CompletionRate  *float64
	ShareRate       *float64
	CommentRate     *float64
	LikeRate        *float64
	Summary         string
	KeyPoints       []string
	Keywords        []string
	SuggestedTags   []string
	Recommendations []Recommendation
	DurationSeconds float64
	Resolution      string
	Format          string
	ModelID         string
	SchemaVersion   int
	CreatedAt       time.Time
}

// SchemaVersion is stamped on every analysis row at write time.
const SchemaVersion = 2

// Score bounds for Analysis.OverallScore.
const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

// Insight roles produced by the auxiliary analysis prompts.
const (
	InsightRoleStrategist = "strategist"
	InsightRoleCopywriter = "copywriter"
	InsightRoleAnalyst    = "analyst"
)

// AgentInsight carries optional per-role commentary attached to an analysis.
type AgentInsight struct {
	ID         string
	AnalysisID string
	Role       string
	Message    string
	Confidence float64
	CreatedAt  time.Time
}

// OwnerSession is the credential bundle that permits the importer to read
// saved-video lists from the provider. At most one session per owner is
// active at any time.
type OwnerSession struct {
	ID             string
	OwnerID        int64
	ProviderHandle string
	Credentials    []byte
	LoginMethod    string
	Active         bool
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}
