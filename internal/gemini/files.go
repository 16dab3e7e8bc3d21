package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"lingua/internal/logging"
)

// Upload pushes bytes to the Files API using the resumable upload
// protocol and returns a reusable reference.
func (c *Client) Upload(ctx context.Context, data []byte, mimeType, label string) (*FileRef, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	logging.L(logging.CategoryGemini).Debug("upload",
		zap.String("label", label),
		zap.Int("size", len(data)),
		zap.String("mime", mimeType))

	// Start a resumable session. The upload endpoint lives under
	// /upload/v1beta rather than /v1beta.
	uploadBase := strings.Replace(c.baseURL, "/v1beta", "/upload/v1beta", 1)
	startURL := fmt.Sprintf("%s/files?key=%s", uploadBase, c.apiKey)

	meta, err := json.Marshal(map[string]interface{}{
		"file": map[string]string{"displayName": label},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(meta))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", fmt.Sprintf("%d", len(data)))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload start request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, apiErrorFromBody(resp.StatusCode, raw)
	}

	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, fmt.Errorf("no upload URL returned in headers")
	}

	// Push the bytes and finalize in one shot.
	reqUpload, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	reqUpload.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	reqUpload.Header.Set("X-Goog-Upload-Offset", "0")
	reqUpload.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	respUpload, err := c.httpClient.Do(reqUpload)
	if err != nil {
		return nil, fmt.Errorf("upload data failed: %w", err)
	}
	defer respUpload.Body.Close()

	if respUpload.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(respUpload.Body)
		return nil, apiErrorFromBody(respUpload.StatusCode, raw)
	}

	var result uploadResponse
	if err := json.NewDecoder(respUpload.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse upload response: %w", err)
	}
	if result.File.URI == "" {
		return nil, fmt.Errorf("no file uri found in upload response")
	}

	logging.L(logging.CategoryGemini).Debug("upload done", zap.String("uri", result.File.URI))
	return &FileRef{URI: result.File.URI, Name: result.File.Name, MIMEType: mimeType}, nil
}

// CheckLive batch-queries liveness of uploaded references. Remote files
// expire, so a reference is live only if it still lists as ACTIVE.
func (c *Client) CheckLive(ctx context.Context, uris []string) (map[string]bool, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	live := make(map[string]bool, len(uris))
	for _, uri := range uris {
		live[uri] = false
	}
	if len(uris) == 0 {
		return live, nil
	}

	active := make(map[string]bool)
	pageToken := ""
	for {
		url := fmt.Sprintf("%s/files?key=%s&pageSize=100", c.baseURL, c.apiKey)
		if pageToken != "" {
			url += "&pageToken=" + pageToken
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list files failed: %w", err)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, apiErrorFromBody(resp.StatusCode, raw)
		}

		var list listFilesResponse
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse list response: %w", err)
		}
		for _, f := range list.Files {
			if f.State == "ACTIVE" {
				active[f.URI] = true
			}
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	for _, uri := range uris {
		live[uri] = active[uri]
	}
	return live, nil
}

// Delete removes an uploaded file. Accepts a resource name ("files/x")
// or a bare id.
func (c *Client) Delete(ctx context.Context, name string) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key required")
	}
	if !strings.HasPrefix(name, "files/") {
		name = "files/" + name
	}

	url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return apiErrorFromBody(resp.StatusCode, raw)
	}
	return nil
}
