package draft

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"civicreport/metrics"
	"civicreport/models"
)

// State of the submission pipeline.
type State string

const (
	StateUpload     State = "upload"
	StateAnalyzing  State = "analyzing"
	StateReview     State = "review"
	StateSubmitting State = "submitting"
	StateDone       State = "done"
)

// Workflow guard errors. All of them are recoverable; nothing in the
// pipeline is fatal to the service.
var (
	ErrNotAnImage       = errors.New("only image files are accepted")
	ErrDraftBusy        = errors.New("draft is being submitted")
	ErrNoActiveDraft    = errors.New("no active draft")
	ErrNotInReview      = errors.New("draft is not in review")
	ErrSubmitInFlight   = errors.New("a submission is already in flight")
	ErrMissingFields    = errors.New("title and description are required")
	ErrMissingLocation  = errors.New("a location is required")
	ErrInvalidCategory  = errors.New("unknown category")
	ErrInvalidSeverity  = errors.New("unknown severity")
	ErrAlreadySubmitted = errors.New("draft was already submitted")
)

// NoticeKind classifies user-facing notifications raised by the pipeline.
type NoticeKind string

const (
	NoticeIrrelevantImage     NoticeKind = "irrelevant_image"
	NoticeClassificationError NoticeKind = "classification_error"
	NoticeAnalysisFailed      NoticeKind = "analysis_failed"
	NoticeSubmitFailed        NoticeKind = "submit_failed"
)

// Notice is a short user-facing message surfaced by the pipeline.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Analyzer is the external image analysis service.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType string) (*models.AnalysisResponse, error)
}

// Store persists submitted issues.
type Store interface {
	SaveIssue(ctx context.Context, issue *models.Issue) (int64, error)
}

// Pipeline drives a single draft through
// upload -> analyzing -> review -> submitting -> done, with backward edges
// for discard and failed submits. All transitions are strictly sequential;
// the mutex serializes them the way the browser event loop does for the SPA.
type Pipeline struct {
	mu sync.Mutex

	analyzer Analyzer
	store    Store
	session  models.AppSession

	minHold time.Duration
	sleep   func(time.Duration)

	state  State
	draft  *Draft
	notice *Notice

	// generation identifies the currently-active draft. An analysis response
	// carrying a stale generation is discarded, so late results can never
	// overwrite a restarted flow or user-entered fields.
	generation uint64

	analysisInFlight bool
	submitInFlight   bool
	settled          chan struct{}

	submittedSeq int64
}

// NewPipeline creates a pipeline in the upload state. minHold is the minimum
// elapsed analyzing duration; pass zero to disable the pacing hold.
func NewPipeline(analyzer Analyzer, store Store, session models.AppSession, minHold time.Duration) *Pipeline {
	return &Pipeline{
		analyzer: analyzer,
		store:    store,
		session:  session,
		minHold:  minHold,
		sleep:    time.Sleep,
		state:    StateUpload,
	}
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Notice returns the last user-facing notice, if any.
func (p *Pipeline) Notice() *Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notice
}

// Snapshot returns the draft's current editable state for display.
func (p *Pipeline) Snapshot() (State, models.FormFields, string, *Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var form models.FormFields
	var addr string
	if p.draft != nil {
		form = p.draft.Form
		addr = p.draft.LocationAddress
	}
	return p.state, form, addr, p.notice
}

// DraftID returns the active draft's ID, or empty when none is held.
func (p *Pipeline) DraftID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draft == nil {
		return ""
	}
	return p.draft.ID
}

// SubmittedSeq returns the stored issue sequence after a successful submit.
func (p *Pipeline) SubmittedSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submittedSeq
}

// AttachImage accepts exactly one image and starts analysis. A replacement
// while a previous analysis is in flight restarts the flow: the prior draft
// is discarded, its preview released, and the late result dropped on the
// floor via the generation check.
func (p *Pipeline) AttachImage(ctx context.Context, image []byte, mimeType string, preview PreviewHandle) error {
	if !strings.HasPrefix(mimeType, "image/") {
		return ErrNotAnImage
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateSubmitting:
		return ErrDraftBusy
	case StateDone:
		return ErrAlreadySubmitted
	}

	// Replacing a prior selection releases its preview exactly once.
	p.draft.releasePreview()

	p.generation++
	gen := p.generation
	p.draft = newDraft(image, mimeType, preview, time.Now())
	p.notice = nil
	p.state = StateAnalyzing
	p.analysisInFlight = true
	p.settled = make(chan struct{})

	if loc := p.session.Location; loc != nil {
		l := *loc
		p.draft.Location = &l
		p.draft.LocationAddress = loc.Address
	}

	// Analysis outlives the request that attached the image: the draft
	// keeps analyzing after the creation response goes out, so the call
	// must not die with the request context. Cancellation of a superseded
	// call is handled by the generation check, not by ctx.
	go p.runAnalysis(context.WithoutCancel(ctx), gen, image, mimeType, p.settled)
	return nil
}

// runAnalysis performs the single in-flight analysis call for a generation
// and applies the outcome policy:
//
//	is_relevant == false          -> upload, draft discarded
//	category present but invalid  -> upload, draft discarded
//	success, valid/absent fields  -> review, prefilled with defaults
//	transport/service error       -> review, fields empty (manual entry)
func (p *Pipeline) runAnalysis(ctx context.Context, gen uint64, image []byte, mimeType string, settled chan struct{}) {
	defer close(settled)

	start := time.Now()
	result, err := p.analyzer.AnalyzeImage(ctx, image, mimeType)
	metrics.AnalysisDurationSeconds.Observe(time.Since(start).Seconds())

	// Hold the analyzing state to its minimum duration so fast responses do
	// not flash by. Pacing only; correctness does not depend on it.
	if remaining := p.minHold - time.Since(start); remaining > 0 {
		p.sleep(remaining)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The user restarted or discarded the flow while we were waiting; this
	// result belongs to a dead draft.
	if gen != p.generation {
		metrics.AnalysisOutcomeTotal.WithLabelValues("stale").Inc()
		return
	}
	p.analysisInFlight = false

	if err != nil {
		metrics.AnalysisOutcomeTotal.WithLabelValues("error").Inc()
		// Fall back to manual entry: keep the image, leave the fields empty.
		p.state = StateReview
		p.notice = &Notice{
			Kind:    NoticeAnalysisFailed,
			Message: "Automatic analysis is unavailable. Please fill in the details manually.",
		}
		p.draft.Form = models.FormFields{
			Category: models.DefaultCategory,
			Severity: models.DefaultSeverity,
		}
		return
	}

	if !result.Relevant() {
		metrics.AnalysisOutcomeTotal.WithLabelValues("irrelevant").Inc()
		p.discardLocked()
		p.notice = &Notice{
			Kind:    NoticeIrrelevantImage,
			Message: "The photo does not appear to show a civic issue. Please try a different photo.",
		}
		return
	}

	if result.Category != nil && !models.Category(*result.Category).Valid() {
		// An unknown category must never leak into the store; treat it like
		// a service fault and discard.
		metrics.AnalysisOutcomeTotal.WithLabelValues("invalid_category").Inc()
		p.discardLocked()
		p.notice = &Notice{
			Kind:    NoticeClassificationError,
			Message: "The photo could not be classified. Please try a different photo.",
		}
		return
	}

	metrics.AnalysisOutcomeTotal.WithLabelValues("accepted").Inc()
	p.draft.Analysis = result
	p.draft.Form = seedForm(result)
	p.state = StateReview
}

// seedForm pre-fills the editable fields from an accepted analysis result,
// applying defaults for anything the service omitted.
func seedForm(result *models.AnalysisResponse) models.FormFields {
	form := models.FormFields{
		Title:       result.Title,
		Description: result.Description,
		Category:    models.DefaultCategory,
		Severity:    models.DefaultSeverity,
	}
	if result.Category != nil {
		if c := models.Category(*result.Category); c.Valid() {
			form.Category = c
		}
	}
	if s := models.Severity(result.Severity); s.Valid() {
		form.Severity = s
	}
	return form
}

// UpdateForm replaces the editable fields. Only allowed in review; the
// category and severity must stay inside their closed sets.
func (p *Pipeline) UpdateForm(fields models.FormFields) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateReview {
		return ErrNotInReview
	}
	if !fields.Category.Valid() {
		return ErrInvalidCategory
	}
	if !fields.Severity.Valid() {
		return ErrInvalidSeverity
	}
	p.draft.Form = fields
	return nil
}

// SetLocation sets the draft's coordinates and seeds the address text.
func (p *Pipeline) SetLocation(loc models.Location) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.draft == nil {
		return ErrNoActiveDraft
	}
	if p.state == StateSubmitting || p.state == StateDone {
		return ErrDraftBusy
	}
	l := loc
	p.draft.Location = &l
	p.draft.LocationAddress = loc.Address
	return nil
}

// SetLocationAddress overrides the address text without touching the
// coordinates.
func (p *Pipeline) SetLocationAddress(address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.draft == nil {
		return ErrNoActiveDraft
	}
	if p.state == StateSubmitting || p.state == StateDone {
		return ErrDraftBusy
	}
	p.draft.LocationAddress = address
	return nil
}

// Discard drops the held image and returns to upload. Any in-flight analysis
// result for the dropped draft will be ignored when it arrives.
func (p *Pipeline) Discard() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateUpload:
		return nil
	case StateSubmitting:
		return ErrDraftBusy
	case StateDone:
		return ErrAlreadySubmitted
	}

	p.generation++
	p.analysisInFlight = false
	p.discardLocked()
	p.notice = nil
	return nil
}

func (p *Pipeline) discardLocked() {
	p.draft.releasePreview()
	p.draft = nil
	p.state = StateUpload
}

// Submit validates the draft and sends it to the store. Single-flight: a
// second call while one is outstanding is a no-op error. On failure every
// user edit and the held image survive untouched; on success the workflow
// ends and the draft is destroyed.
func (p *Pipeline) Submit(ctx context.Context) (int64, error) {
	p.mu.Lock()

	if p.state == StateDone {
		p.mu.Unlock()
		return 0, ErrAlreadySubmitted
	}
	if p.submitInFlight || p.state == StateSubmitting {
		p.mu.Unlock()
		return 0, ErrSubmitInFlight
	}
	if p.state != StateReview {
		p.mu.Unlock()
		return 0, ErrNotInReview
	}

	form := p.draft.Form
	if strings.TrimSpace(form.Title) == "" || strings.TrimSpace(form.Description) == "" {
		p.mu.Unlock()
		return 0, ErrMissingFields
	}
	if p.draft.Location == nil {
		p.mu.Unlock()
		return 0, ErrMissingLocation
	}
	if !form.Category.Valid() {
		// The raw analysis value never reaches the store.
		p.mu.Unlock()
		return 0, ErrInvalidCategory
	}

	issue := p.assembleLocked()
	p.state = StateSubmitting
	p.submitInFlight = true
	p.mu.Unlock()

	seq, err := p.store.SaveIssue(ctx, issue)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitInFlight = false

	if err != nil {
		// No data loss: the draft, its image and every edit stay intact.
		metrics.SubmissionsTotal.WithLabelValues("error").Inc()
		p.state = StateReview
		p.notice = &Notice{
			Kind:    NoticeSubmitFailed,
			Message: "Could not submit the report. Please try again.",
		}
		return 0, err
	}

	metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
	p.submittedSeq = seq
	p.notice = nil
	p.generation++
	p.draft.releasePreview()
	p.draft = nil
	p.state = StateDone
	return seq, nil
}

// assembleLocked merges user edits, location, image and AI-derived tags into
// the submission payload.
func (p *Pipeline) assembleLocked() *models.Issue {
	d := p.draft
	issue := &models.Issue{
		ReporterID:  p.session.UserID,
		Title:       d.Form.Title,
		Description: d.Form.Description,
		Category:    d.Form.Category,
		Severity:    d.Form.Severity,
		Status:      models.StatusReceived,
		Anonymous:   d.Form.Anonymous,
		Location: models.Location{
			Latitude:  d.Location.Latitude,
			Longitude: d.Location.Longitude,
			Address:   d.LocationAddress,
		},
		Image: append([]byte(nil), d.Image...),
	}
	if d.Analysis != nil {
		issue.Tags = append([]string(nil), d.Analysis.Tags...)
	}
	return issue
}

// Release frees the draft's resources without caring about state. Used on
// eviction, the headless analog of component unmount.
func (p *Pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.draft.releasePreview()
	p.draft = nil
}
