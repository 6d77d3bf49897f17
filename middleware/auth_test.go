package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"civicreport/models"
)

func sessionRouter(auth *AuthClient, capture *models.AppSession) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SessionMiddleware(auth))
	router.GET("/whoami", func(c *gin.Context) {
		*capture = GetSession(c)
		c.Status(http.StatusOK)
	})
	return router
}

func TestSessionClientIDIsStable(t *testing.T) {
	var first, second models.AppSession
	auth := NewAuthClient("http://localhost:0")

	router := sessionRouter(auth, &first)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(ClientIDHeader, "device-42")
	router.ServeHTTP(httptest.NewRecorder(), req)

	router = sessionRouter(auth, &second)
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(ClientIDHeader, "device-42")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if first.UserID == "" || first.UserID != second.UserID {
		t.Errorf("client id sessions = %q / %q, want the same non-empty identity", first.UserID, second.UserID)
	}
	if first.Authenticated {
		t.Error("client id session must not be authenticated")
	}
}

func TestSessionWithoutClientIDIsUniquePerRequest(t *testing.T) {
	var first, second models.AppSession
	auth := NewAuthClient("http://localhost:0")

	router := sessionRouter(auth, &first)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/whoami", nil))

	router = sessionRouter(auth, &second)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if first.UserID == "" || second.UserID == "" {
		t.Fatalf("sessions = %q / %q, want non-empty identities", first.UserID, second.UserID)
	}
	// Two devices behind one NAT share a source IP; their identities must
	// still differ or they would evict each other's drafts.
	if first.UserID == second.UserID {
		t.Errorf("both requests got identity %q, want distinct ones", first.UserID)
	}
}

func TestSessionValidBearerToken(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/validate-token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"valid": true, "user_id": "user-1"}`))
	}))
	defer authSrv.Close()

	var session models.AppSession
	router := sessionRouter(NewAuthClient(authSrv.URL), &session)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !session.Authenticated || session.UserID != "user-1" {
		t.Errorf("session = %+v, want authenticated user-1", session)
	}
}

func TestSessionInvalidBearerTokenRejected(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"valid": false, "error": "expired"}`))
	}))
	defer authSrv.Close()

	var session models.AppSession
	router := sessionRouter(NewAuthClient(authSrv.URL), &session)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for an invalid token", w.Code)
	}
}
