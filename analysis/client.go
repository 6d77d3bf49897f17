package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"civicreport/config"
	"civicreport/models"
)

// Client handles communication with the external image analysis service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new analysis client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.AnalysisServiceURL,
		httpClient: &http.Client{
			Timeout: cfg.AnalysisTimeout,
		},
	}
}

// NewClientWithURL creates a client against an explicit base URL. Used by tests.
func NewClientWithURL(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AnalyzeImage uploads an image to the analysis service and returns its
// classification. Optional response fields may be absent; callers apply
// defaults. A non-2xx status or transport failure is returned as an error,
// never as a fabricated response.
func (c *Client) AnalyzeImage(ctx context.Context, image []byte, mimeType string) (*models.AnalysisResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", fileNameFor(mimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/api/v3/analysis/image", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to analysis service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result models.AnalysisResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	return &result, nil
}

func fileNameFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "image.png"
	case "image/webp":
		return "image.webp"
	default:
		return "image.jpg"
	}
}
