package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/book-expert/voice-studio/internal/core"
)

// Form field names.
const (
	formFieldFile = "file"
)

// UploadResult is the body of a successful POST /upload-speaker.
type UploadResult struct {
	Status   string `json:"status,omitempty"`
	Speaker  string `json:"speaker"`
	Filename string `json:"filename,omitempty"`
}

// UploadSpeaker submits a voice sample as multipart field "file" and returns
// the identifier of the resulting speaker profile.
func (c *HTTPClient) UploadSpeaker(ctx context.Context, filename string, sample io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, sample)
	if err != nil {
		return nil, fmt.Errorf("failed to copy sample data: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiUploadSpeaker, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set(headerContentType, writer.FormDataContentType())
	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp, detailUploadFailed)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload response: %w", core.ErrNetwork, err)
	}

	var result UploadResult

	err = parseJSON(body, &result)
	if err != nil {
		return nil, &core.ServiceError{StatusCode: resp.StatusCode, Detail: "malformed upload response: " + err.Error()}
	}

	if result.Speaker == "" {
		return nil, &core.ServiceError{StatusCode: resp.StatusCode, Detail: "upload response did not name a speaker"}
	}

	return &result, nil
}
