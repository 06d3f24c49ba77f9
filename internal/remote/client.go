// Package remote talks to the insights server: it fetches the library
// manifest and posts sync commands, media uploads and session events.
//
// Every call is a single best-effort attempt. Callers own the retry policy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNoServerURL is returned before any request when no server is configured.
	ErrNoServerURL = errors.New("server url is not configured")
	// ErrUnauthorized wraps 401 and 403 responses.
	ErrUnauthorized = errors.New("server rejected credentials")
	// ErrNotFound wraps 404 responses.
	ErrNotFound = errors.New("server endpoint not found")
)

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 512

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Endpoint, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Client is the HTTP transport to the insights server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a client. token is optional; when set it is sent as a
// bearer token.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetManifest fetches the server manifest. It returns nil and an error on any
// transport, status or decoding failure; the manifest is never partial.
func (c *Client) GetManifest(ctx context.Context) (*Manifest, error) {
	req, err := c.newRequest(ctx, http.MethodGet, EndpointManifest, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req, EndpointManifest)
	if err != nil {
		return nil, err
	}
	if err := validateManifest(body); err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &manifest, nil
}

// PostJSON sends payload as a JSON body. The response body is ignored.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", endpoint, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req, endpoint)
	return err
}

// PostMultipart streams a multipart form with the given text fields and one
// application/octet-stream part per file, all under the "files" field.
func (c *Client) PostMultipart(ctx context.Context, endpoint string, fields []FormField, files []FilePart) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, files))
	}()
	defer pr.Close()

	req, err := c.newRequest(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	_, err = c.do(req, endpoint)
	return err
}

func writeMultipart(mw *multipart.Writer, fields []FormField, files []FilePart) error {
	for _, f := range fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", f.Name, err)
		}
	}
	for _, f := range files {
		if err := copyFilePart(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFilePart(mw *multipart.Writer, f FilePart) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open media file: %w", err)
	}
	defer src.Close()

	// CreateFormFile sets Content-Type: application/octet-stream.
	part, err := mw.CreateFormFile(FieldFiles, f.FileName)
	if err != nil {
		return fmt.Errorf("failed to create part for %s: %w", f.FileName, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to copy %s: %w", f.FileName, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, ErrNoServerURL
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		token := c.token
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}
	return req, nil
}

// do executes req and returns the response body of a 2xx response.
func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.Method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	return body, nil
}
