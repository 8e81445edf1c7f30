// Package tts provides the HTTP client for the remote synthesis service.
//
// The client speaks the service contract only: health probing, speaker
// listing, synthesis and speaker upload. Transport failures are wrapped in
// core.ErrNetwork and non-success responses become *core.ServiceError, so
// callers can classify outcomes without inspecting HTTP details.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voice-studio/internal/core"
)

// API endpoints and paths.
const (
	apiHealth        = "/health"
	apiSpeakers      = "/speakers"
	apiSynthesize    = "/tts"
	apiUploadSpeaker = "/upload-speaker"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	acceptAudio       = "audio/*"
)

// Fallback details used when the service gives no structured error.
const (
	detailGenerationFailed = "Generation failed"
	detailUploadFailed     = "Upload failed"
	detailSpeakersFailed   = "Failed to list speakers"
	detailEmptyAudio       = "received empty audio data"
	detailUnexpectedType   = "unexpected content type: %s"
)

// HTTPClient represents a client for the synthesis service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// SynthesisRequest defines the JSON payload for POST /tts.
type SynthesisRequest struct {
	Text     string   `json:"text"`
	Speaker  string   `json:"speaker"`
	Language Language `json:"language"`
	Format   Format   `json:"format"`
}

// Audio is a successful synthesis payload.
type Audio struct {
	Data     []byte
	MimeType string
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string `json:"status"`
	Device string `json:"device,omitempty"`
}

// ErrorResponse represents a structured error response from the service.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewHTTPClient creates and configures an HTTP client for the service.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the network target of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// HealthCheck verifies that the service is reachable and reports success.
func (c *HTTPClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp, "health check failed with status: "+resp.Status)
	}

	var status HealthStatus

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read health response: %w", core.ErrNetwork, readErr)
	}

	// A 200 is the success signal; the body is informational only.
	if parseJSON(body, &status) != nil {
		status = HealthStatus{Status: "online"}
	}

	return &status, nil
}

// FetchSpeakers returns the raw body of GET /speakers. Shape normalisation is
// left to the catalog, which knows which layouts it accepts.
func (c *HTTPClient) FetchSpeakers(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiSpeakers, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create speakers request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp, detailSpeakersFailed)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read speakers response: %w", core.ErrNetwork, err)
	}

	return body, nil
}

// Synthesize sends a synthesis job and returns the rendered audio.
func (c *HTTPClient) Synthesize(ctx context.Context, synthesisReq SynthesisRequest) (*Audio, error) {
	requestBody, err := json.Marshal(synthesisReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, acceptAudio)

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp, detailGenerationFailed)
	}

	mimeType, err := audioMimeType(resp.Header.Get(headerContentType), synthesisReq.Format)
	if err != nil {
		return nil, &core.ServiceError{StatusCode: resp.StatusCode, Detail: err.Error()}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", core.ErrNetwork, err)
	}

	if len(audioData) == 0 {
		return nil, &core.ServiceError{StatusCode: resp.StatusCode, Detail: detailEmptyAudio}
	}

	return &Audio{Data: audioData, MimeType: mimeType}, nil
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%w: %w", core.ErrCancelled, ctxErr)
		}

		return nil, fmt.Errorf(
			"%w: request to %s failed: %w",
			core.ErrNetwork,
			c.baseURL,
			err,
		)
	}

	return resp, nil
}

// audioMimeType accepts any audio/* response and falls back to the requested
// format when the service omits the header.
func audioMimeType(header string, format Format) (string, error) {
	if header == "" {
		return format.MimeType(), nil
	}

	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || !strings.HasPrefix(mediaType, "audio/") {
		return "", fmt.Errorf(detailUnexpectedType, header)
	}

	return mediaType, nil
}

// parseErrorResponse attempts to decode a structured JSON error from the service.
// The detail is surfaced verbatim when present, otherwise the fallback is used.
func parseErrorResponse(resp *http.Response, fallback string) error {
	serviceErr := &core.ServiceError{StatusCode: resp.StatusCode, Detail: fallback}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return serviceErr
	}

	var errorResp ErrorResponse

	if parseJSON(body, &errorResp) == nil && errorResp.Detail != "" {
		serviceErr.Detail = errorResp.Detail
	}

	return serviceErr
}

// parseJSON parses JSON data into the target value.
func parseJSON(data []byte, target any) error {
	err := json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}
