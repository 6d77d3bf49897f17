package models

import (
	"time"
)

// Category is the closed set of issue categories. Any value outside this set
// coming back from the analysis service is treated as a classification error.
type Category string

const (
	CategoryRoads        Category = "roads"
	CategoryLighting     Category = "lighting"
	CategoryWater        Category = "water"
	CategoryCleanliness  Category = "cleanliness"
	CategoryObstructions Category = "obstructions"
	CategorySafety       Category = "safety"
)

// DefaultCategory is applied when the analysis service omits the category.
const DefaultCategory = CategoryRoads

// Categories returns all valid categories.
func Categories() []Category {
	return []Category{
		CategoryRoads,
		CategoryLighting,
		CategoryWater,
		CategoryCleanliness,
		CategoryObstructions,
		CategorySafety,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryRoads, CategoryLighting, CategoryWater,
		CategoryCleanliness, CategoryObstructions, CategorySafety:
		return true
	}
	return false
}

// Severity levels of an issue.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity is applied when the analysis service omits the severity.
const DefaultSeverity = SeverityMedium

// Severities returns all valid severities.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the lifecycle status of a stored issue.
type Status string

const (
	StatusReceived   Status = "received"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusRejected   Status = "rejected"
)

// Statuses returns all valid statuses.
func Statuses() []Status {
	return []Status{StatusReceived, StatusInProgress, StatusResolved, StatusRejected}
}

// Valid reports whether st is one of the known statuses.
func (st Status) Valid() bool {
	switch st {
	case StatusReceived, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// AnalysisResponse is the contract of the external analysis service.
// All fields except is_relevant are optional and their absence must be
// tolerated. IsRelevant is a pointer because only an explicit false rejects
// the image. Category is a pointer because an omitted category gets the
// default while a present-but-unknown one (empty string included) is a
// classification error.
type AnalysisResponse struct {
	IsRelevant  *bool    `json:"is_relevant"`
	Category    *string  `json:"category"`
	Severity    string   `json:"severity,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Relevant reports whether the analysis flagged the image as a civic issue.
// Only an explicit is_relevant=false counts as a rejection.
func (r *AnalysisResponse) Relevant() bool {
	return r.IsRelevant == nil || *r.IsRelevant
}

// FormFields are the user-editable fields of a draft. They are seeded from
// the analysis result when one is available and never written back into it.
type FormFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Anonymous   bool     `json:"anonymous"`
}

// Location is a coordinate pair with its reverse-geocoded or user-entered
// address text.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
	Address   string  `json:"address"`
}

// Issue is a submitted, persisted civic issue report.
type Issue struct {
	Seq         int64     `json:"seq"`
	ReporterID  string    `json:"reporter_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Status      Status    `json:"status"`
	Anonymous   bool      `json:"anonymous"`
	Location    Location  `json:"location"`
	Tags        []string  `json:"tags,omitempty"`
	Image       []byte    `json:"-"`
	VoteCount   int       `json:"vote_count"`
	Upvotes     int       `json:"upvotes"`
	Downvotes   int       `json:"downvotes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VoteType is the direction of a vote.
type VoteType string

const (
	VoteUp   VoteType = "upvote"
	VoteDown VoteType = "downvote"
)

// Valid reports whether v is a known vote type.
func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// VoteTally is the authoritative vote state of an issue as recounted by the
// store. Clients replace their local tally with it wholesale.
type VoteTally struct {
	VoteCount int    `json:"voteCount"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
	UserVote  string `json:"userVote"`
}

// FilterSpec selects a subset of issues for list views and dashboards.
// Zero values mean "no constraint".
type FilterSpec struct {
	Status       Status    `json:"status,omitempty"`
	Category     Category  `json:"category,omitempty"`
	Center       *Location `json:"center,omitempty"`
	RadiusMeters float64   `json:"radius_meters,omitempty"`
	Search       string    `json:"search,omitempty"`
}

// IssueStats are per-status and per-category counts over a filtered set.
type IssueStats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByCategory map[Category]int `json:"by_category"`
}

// AppSession carries the ambient request state (user, selected location) as
// an explicit value instead of a global, so the workflow stays testable.
type AppSession struct {
	UserID        string
	Authenticated bool
	Location      *Location
}
