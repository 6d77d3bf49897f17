package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"civicreport/analysis"
	"civicreport/config"
	"civicreport/database"
	"civicreport/draft"
	"civicreport/issues"
	"civicreport/models"
	"civicreport/votes"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func testRouter(t *testing.T, analyzer draft.Analyzer) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db := database.NewWithDB(sqlDB)
	cfg := &config.Config{
		MaxImageSizeBytes:   1 << 20,
		DefaultRadiusMeters: 5000,
	}
	manager := draft.NewManager(analyzer, db, 0, time.Minute)
	t.Cleanup(manager.Stop)

	h := NewHandlers(db, cfg, manager, votes.NewService(db), issues.NewService(db), nil, nil)

	router := gin.New()
	api := router.Group("/api/v3")
	api.Use(func(c *gin.Context) {
		// Stand-in for SessionMiddleware: authenticated when a bearer token
		// is present, anonymous otherwise.
		session := models.AppSession{UserID: "anon:test"}
		if c.GetHeader("Authorization") != "" {
			session = models.AppSession{UserID: "user-1", Authenticated: true}
		}
		c.Set("app_session", session)
		c.Next()
	})
	api.POST("/drafts", h.CreateDraft)
	api.GET("/drafts/:id", h.GetDraft)
	api.GET("/issues", h.ListIssues)
	api.GET("/issues/:seq", h.GetIssue)
	api.POST("/issues/:seq/vote", h.VoteIssue)
	return router, mock
}

// TestCreateDraftReachesReviewPrefilled runs the full intake path over real
// HTTP: upload through a live server, analysis against a stub backend that
// answers after the creation response has gone out, then poll until the
// draft settles prefilled in review.
func TestCreateDraftReachesReviewPrefilled(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"is_relevant": true, "category": "water", "severity": "high", "title": "Burst pipe", "description": "Leak on Main St"}`))
	}))
	defer backend.Close()

	router, _ := testRouter(t, analysis.NewClientWithURL(backend.URL, 5*time.Second))
	srv := httptest.NewServer(router)
	defer srv.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="image"; filename="image.jpg"`)
	partHeader.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	part.Write([]byte("jpeg-bytes"))
	writer.Close()

	resp, err := http.Post(srv.URL+"/api/v3/drafts", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /drafts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.State != "analyzing" {
		t.Fatalf("state = %q right after create, want analyzing", created.State)
	}

	var settled struct {
		State  string            `json:"state"`
		Form   models.FormFields `json:"form"`
		Notice *struct {
			Kind string `json:"kind"`
		} `json:"notice"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		getResp, err := http.Get(srv.URL + "/api/v3/drafts/" + created.ID)
		if err != nil {
			t.Fatalf("GET /drafts/%s: %v", created.ID, err)
		}
		err = json.NewDecoder(getResp.Body).Decode(&settled)
		getResp.Body.Close()
		if err != nil {
			t.Fatalf("decode draft: %v", err)
		}
		if settled.State != "analyzing" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("draft never left analyzing")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if settled.State != "review" {
		t.Fatalf("state = %q, want review", settled.State)
	}
	if settled.Notice != nil {
		t.Fatalf("notice = %+v, a healthy backend must not produce one", settled.Notice)
	}
	want := models.FormFields{
		Title:       "Burst pipe",
		Description: "Leak on Main St",
		Category:    models.CategoryWater,
		Severity:    models.SeverityHigh,
	}
	if settled.Form != want {
		t.Errorf("form = %+v, want the classification applied %+v", settled.Form, want)
	}
}

func TestListIssuesRejectsUnknownFilters(t *testing.T) {
	router, _ := testRouter(t, nil)

	testCases := []struct {
		name string
		url  string
	}{
		{"unknown status", "/api/v3/issues?status=pending"},
		{"unknown category", "/api/v3/issues?category=skyscraper"},
		{"negative radius", "/api/v3/issues?lat=42.4&lng=19.2&radius=-5"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestGetIssueInvalidSeq(t *testing.T) {
	router, _ := testRouter(t, nil)

	for _, seq := range []string{"abc", "0", "-1"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v3/issues/"+seq, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("seq %q: status = %d, want 400", seq, w.Code)
		}
	}
}

func TestVoteRequiresAuth(t *testing.T) {
	router, _ := testRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v3/issues/7/vote",
		bytes.NewBufferString(`{"vote":"upvote"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for unauthenticated vote", w.Code)
	}
}

func TestVoteAuthenticated(t *testing.T) {
	router, mock := testRouter(t, nil)

	mock.ExpectQuery("SELECT 1 FROM issues WHERE seq").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("INSERT INTO issue_votes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM issue_votes").
		WillReturnRows(sqlmock.NewRows([]string{"upvotes", "downvotes", "user_vote"}).
			AddRow(1, 0, "upvote"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v3/issues/7/vote",
		bytes.NewBufferString(`{"vote":"upvote"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestVoteUnknownTypeRejected(t *testing.T) {
	router, _ := testRouter(t, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v3/issues/7/vote",
		bytes.NewBufferString(`{"vote":"sideways"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown vote type", w.Code)
	}
}
