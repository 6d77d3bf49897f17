package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAnalyzeImage(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		response   string

		wantErr      bool
		wantRelevant bool
		wantCategory string
		wantTitle    string
		wantTags     int
	}{
		{
			name:       "full response",
			statusCode: http.StatusOK,
			response: `{
				"is_relevant": true,
				"category": "water",
				"severity": "high",
				"title": "Burst pipe",
				"description": "Leak on Main St",
				"tags": ["pipe", "leak"]
			}`,
			wantRelevant: true,
			wantCategory: "water",
			wantTitle:    "Burst pipe",
			wantTags:     2,
		},
		{
			name:         "irrelevant image",
			statusCode:   http.StatusOK,
			response:     `{"is_relevant": false}`,
			wantRelevant: false,
		},
		{
			name:         "optional fields absent",
			statusCode:   http.StatusOK,
			response:     `{"is_relevant": true}`,
			wantRelevant: true,
		},
		{
			name:         "is_relevant absent is not a rejection",
			statusCode:   http.StatusOK,
			response:     `{"category": "roads"}`,
			wantRelevant: true,
			wantCategory: "roads",
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			response:   `{"error": "model unavailable"}`,
			wantErr:    true,
		},
		{
			name:       "malformed body",
			statusCode: http.StatusOK,
			response:   `{"is_relevant":`,
			wantErr:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v3/analysis/image" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Errorf("expected multipart form: %v", err)
				}
				if _, _, err := r.FormFile("image"); err != nil {
					t.Errorf("expected image file part: %v", err)
				}
				w.WriteHeader(tc.statusCode)
				w.Write([]byte(tc.response))
			}))
			defer srv.Close()

			client := NewClientWithURL(srv.URL, 5*time.Second)
			result, err := client.AnalyzeImage(context.Background(), []byte("fake-jpeg"), "image/jpeg")

			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Relevant() != tc.wantRelevant {
				t.Errorf("Relevant() = %v, want %v", result.Relevant(), tc.wantRelevant)
			}
			category := ""
			if result.Category != nil {
				category = *result.Category
			}
			if category != tc.wantCategory {
				t.Errorf("Category = %q, want %q", category, tc.wantCategory)
			}
			if result.Title != tc.wantTitle {
				t.Errorf("Title = %q, want %q", result.Title, tc.wantTitle)
			}
			if len(result.Tags) != tc.wantTags {
				t.Errorf("len(Tags) = %d, want %d", len(result.Tags), tc.wantTags)
			}
		})
	}
}

func TestAnalyzeImageNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClientWithURL(srv.URL, time.Second)
	if _, err := client.AnalyzeImage(context.Background(), []byte("x"), "image/jpeg"); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}
