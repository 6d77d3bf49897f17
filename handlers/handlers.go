package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"civicreport/config"
	"civicreport/database"
	"civicreport/draft"
	"civicreport/issues"
	"civicreport/middleware"
	"civicreport/models"
	"civicreport/rabbitmq"
	"civicreport/version"
	"civicreport/votes"
	ws "civicreport/websocket"
)

// Handlers holds all HTTP handlers
type Handlers struct {
	db        *database.Database
	config    *config.Config
	drafts    *draft.Manager
	votes     *votes.Service
	issues    *issues.Service
	publisher *rabbitmq.Publisher
	hub       *ws.Hub
}

// NewHandlers creates a new handlers instance. The publisher may be nil when
// the broker is unavailable; events are then skipped.
func NewHandlers(db *database.Database, cfg *config.Config, drafts *draft.Manager, voteSvc *votes.Service, issueSvc *issues.Service, publisher *rabbitmq.Publisher, hub *ws.Hub) *Handlers {
	return &Handlers{
		db:        db,
		config:    cfg,
		drafts:    drafts,
		votes:     voteSvc,
		issues:    issueSvc,
		publisher: publisher,
		hub:       hub,
	}
}

// draftResponse is the client view of a pipeline.
type draftResponse struct {
	ID      string            `json:"id"`
	State   draft.State       `json:"state"`
	Form    models.FormFields `json:"form"`
	Address string            `json:"address"`
	Notice  *draft.Notice     `json:"notice,omitempty"`
}

func draftView(id string, p *draft.Pipeline) draftResponse {
	state, form, addr, notice := p.Snapshot()
	return draftResponse{
		ID:      id,
		State:   state,
		Form:    form,
		Address: addr,
		Notice:  notice,
	}
}

// CreateDraft accepts a multipart image, starts a new draft and kicks off
// analysis. Coordinates may come along in the same form.
func (h *Handlers) CreateDraft(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "An image file is required"})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, h.config.MaxImageSizeBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read image"})
		return
	}
	if int64(len(image)) > h.config.MaxImageSizeBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image is too large"})
		return
	}

	session := middleware.GetSession(c)
	if lat, lng, ok := parseCoordinates(c); ok {
		session.Location = &models.Location{
			Latitude:  lat,
			Longitude: lng,
			Address:   c.PostForm("address"),
		}
	}

	id, p := h.drafts.Create(session)
	if err := p.AttachImage(c.Request.Context(), image, header.Header.Get("Content-Type"), nil); err != nil {
		h.drafts.Remove(id)
		respondDraftError(c, err)
		return
	}

	c.JSON(http.StatusCreated, draftView(id, p))
}

// GetDraft returns the draft's current state, form and notice.
func (h *Handlers) GetDraft(c *gin.Context) {
	p, ok := h.drafts.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}
	c.JSON(http.StatusOK, draftView(c.Param("id"), p))
}

// UpdateDraftForm replaces the editable fields of a draft in review.
func (h *Handlers) UpdateDraftForm(c *gin.Context) {
	p, ok := h.drafts.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}

	var form models.FormFields
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := p.UpdateForm(form); err != nil {
		respondDraftError(c, err)
		return
	}
	c.JSON(http.StatusOK, draftView(c.Param("id"), p))
}

// UpdateDraftLocation sets the draft's coordinates or just the address text.
func (h *Handlers) UpdateDraftLocation(c *gin.Context) {
	p, ok := h.drafts.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}

	var req struct {
		Latitude  *float64 `json:"lat"`
		Longitude *float64 `json:"lng"`
		Address   string   `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var err error
	if req.Latitude != nil && req.Longitude != nil {
		err = p.SetLocation(models.Location{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Address:   req.Address,
		})
	} else {
		err = p.SetLocationAddress(req.Address)
	}
	if err != nil {
		respondDraftError(c, err)
		return
	}
	c.JSON(http.StatusOK, draftView(c.Param("id"), p))
}

// DiscardDraft drops the draft and its image.
func (h *Handlers) DiscardDraft(c *gin.Context) {
	p, ok := h.drafts.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}

	if err := p.Discard(); err != nil {
		respondDraftError(c, err)
		return
	}
	h.drafts.Remove(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SubmitDraft validates and stores the draft. On success the new issue is
// announced on RabbitMQ and over the websocket.
func (h *Handlers) SubmitDraft(c *gin.Context) {
	id := c.Param("id")
	p, ok := h.drafts.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
		return
	}

	seq, err := p.Submit(c.Request.Context())
	if err != nil {
		respondDraftError(c, err)
		return
	}
	h.drafts.Remove(id)

	issue, err := h.db.GetIssue(c.Request.Context(), seq)
	if err != nil {
		log.Printf("Failed to load issue %d after submit: %v", seq, err)
	}
	if issue != nil {
		if h.publisher != nil {
			if err := h.publisher.PublishIssueSubmitted(issue); err != nil {
				log.Printf("Failed to publish issue %d: %v", seq, err)
			}
		}
		if h.hub != nil {
			h.hub.BroadcastIssue(issue)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "seq": seq})
}

// ListIssues returns the filtered issue list plus stats over the same set.
func (h *Handlers) ListIssues(c *gin.Context) {
	filter := models.FilterSpec{
		Status:   models.Status(c.Query("status")),
		Category: models.Category(c.Query("category")),
		Search:   c.Query("search"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status"})
		return
	}
	if filter.Category != "" && !filter.Category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown category"})
		return
	}
	if lat, lng, ok := parseCoordinates(c); ok {
		radius := h.config.DefaultRadiusMeters
		if radiusStr := c.Query("radius"); radiusStr != "" {
			parsed, err := strconv.ParseFloat(radiusStr, 64)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid radius"})
				return
			}
			radius = parsed
		}
		filter.Center = &models.Location{Latitude: lat, Longitude: lng}
		filter.RadiusMeters = radius
	}

	list, stats, err := h.issues.Query(c.Request.Context(), filter)
	if err != nil {
		log.Printf("Failed to query issues: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load issues"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"issues": list,
		"stats":  stats,
	})
}

// RefreshIssues reloads the issue snapshot from the store.
func (h *Handlers) RefreshIssues(c *gin.Context) {
	if err := h.issues.Refresh(c.Request.Context()); err != nil {
		log.Printf("Failed to refresh issues: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh issues"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "refreshed_at": h.issues.LastRefreshed()})
}

// GetIssue returns a single issue with its vote tally.
func (h *Handlers) GetIssue(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue sequence"})
		return
	}

	issue, err := h.db.GetIssue(c.Request.Context(), seq)
	if err != nil {
		log.Printf("Failed to get issue %d: %v", seq, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load issue"})
		return
	}
	if issue == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
		return
	}
	c.JSON(http.StatusOK, issue)
}

// VoteIssue records the session user's vote and returns the authoritative
// tally.
func (h *Handlers) VoteIssue(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue sequence"})
		return
	}

	var req struct {
		Vote models.VoteType `json:"vote"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	tally, err := h.votes.Cast(c.Request.Context(), middleware.GetSession(c), seq, req.Vote)
	if err != nil {
		switch {
		case errors.Is(err, votes.ErrAuthRequired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, votes.ErrInvalidVote):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, votes.ErrVoteInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Printf("Failed to record vote on issue %d: %v", seq, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record vote"})
		}
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishVote(seq, tally); err != nil {
			log.Printf("Failed to publish vote on issue %d: %v", seq, err)
		}
	}
	if h.hub != nil {
		h.hub.BroadcastTally(seq, tally)
	}

	c.JSON(http.StatusOK, tally)
}

// ServeWS upgrades to a websocket for live issue and tally updates.
func (h *Handlers) ServeWS(c *gin.Context) {
	ws.ServeWS(h.hub, c.Writer, c.Request)
}

// Health reports service liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "civicreport",
	})
}

// Version reports the build version.
func (h *Handlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get("civicreport"))
}

func parseCoordinates(c *gin.Context) (float64, float64, bool) {
	latStr := c.Query("lat")
	lngStr := c.Query("lng")
	if latStr == "" {
		latStr = c.PostForm("lat")
	}
	if lngStr == "" {
		lngStr = c.PostForm("lng")
	}
	if latStr == "" || lngStr == "" {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, false
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func respondDraftError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, draft.ErrNotAnImage),
		errors.Is(err, draft.ErrMissingFields),
		errors.Is(err, draft.ErrMissingLocation),
		errors.Is(err, draft.ErrInvalidCategory),
		errors.Is(err, draft.ErrInvalidSeverity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, draft.ErrSubmitInFlight),
		errors.Is(err, draft.ErrDraftBusy),
		errors.Is(err, draft.ErrAlreadySubmitted),
		errors.Is(err, draft.ErrNotInReview):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, draft.ErrNoActiveDraft):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Printf("Draft operation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
