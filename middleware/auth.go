package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"civicreport/models"
)

const sessionKey = "app_session"

// ClientIDHeader identifies an anonymous device. It keys the device's draft
// until the user signs in.
const ClientIDHeader = "X-Client-Id"

// AuthClient validates bearer tokens against the auth service.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthClient creates an auth service client.
func NewAuthClient(baseURL string) *AuthClient {
	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ValidateToken asks the auth service whether the token is valid and whose
// it is.
func (a *AuthClient) ValidateToken(token string) (string, error) {
	requestBody := map[string]string{
		"token": token,
	}
	body, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal validation request: %w", err)
	}

	resp, err := a.httpClient.Post(a.baseURL+"/api/v3/validate-token", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to call auth service: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Valid  bool   `json:"valid"`
		UserID string `json:"user_id"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode auth service response: %w", err)
	}

	if !result.Valid {
		return "", fmt.Errorf("invalid token: %s", result.Error)
	}
	return result.UserID, nil
}

// SessionMiddleware builds the request's AppSession. A valid bearer token
// produces an authenticated session; no token produces an anonymous one
// keyed by the client id header, so drafts survive across requests. Only a
// present-but-invalid token is rejected.
func SessionMiddleware(auth *AuthClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := models.AppSession{}

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
				c.Abort()
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			userID, err := auth.ValidateToken(token)
			if err != nil {
				log.Printf("WARNING: Token validation failed from %s: %v", c.ClientIP(), err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				c.Abort()
				return
			}
			session.UserID = userID
			session.Authenticated = true
		} else if clientID := c.GetHeader(ClientIDHeader); clientID != "" {
			session.UserID = "anon:" + clientID
		} else {
			// No token and no client id: mint a throwaway identity. Devices
			// behind one NAT must never share a draft key, so the client IP
			// is not usable here; such a caller keeps its draft through the
			// draft id in the creation response.
			session.UserID = "anon:" + uuid.New().String()
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// RequireAuth rejects requests whose session is not authenticated.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetSession(c).Authenticated {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetSession extracts the AppSession built by SessionMiddleware.
func GetSession(c *gin.Context) models.AppSession {
	if v, ok := c.Get(sessionKey); ok {
		if session, ok := v.(models.AppSession); ok {
			return session
		}
	}
	return models.AppSession{}
}
