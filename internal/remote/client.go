// Package remote is the HTTP client for the offsync remote API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/offsync/internal/errkind"
	"github.com/marcus/offsync/internal/models"
)

// Sentinel errors for common HTTP error classes. Every returned error also
// carries an errkind.Kind.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Client is an HTTP client for the remote API.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// DocumentUpload is the body of POST /v1/documents.
type DocumentUpload struct {
	GroupID      int64  `json:"groupId"`
	RepositoryID int64  `json:"repositoryId"`
	FolderID     int64  `json:"folderId"`
	FilePrefix   string `json:"filePrefix"`
	Name         string `json:"name"`
	Data         []byte `json:"data"`
}

// UploadedDocument is the response of POST /v1/documents.
type UploadedDocument struct {
	FileEntryID int64  `json:"fileEntryId"`
	URL         string `json:"url"`
	Title       string `json:"title"`
}

// PortraitResponse is the response of PUT /v1/users/{id}/portrait.
type PortraitResponse struct {
	UserID       int64 `json:"userId"`
	PortraitID   int64 `json:"portraitId"`
	ModifiedDate int64 `json:"modifiedDate"`
}

// MeResponse is the response from GET /v1/me.
type MeResponse struct {
	UserID       int64  `json:"userId"`
	CompanyID    int64  `json:"companyId"`
	GroupID      int64  `json:"groupId"`
	EmailAddress string `json:"emailAddress"`
	ScreenName   string `json:"screenName"`
}

// Health hits /healthz to verify the server is reachable.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doNoAuth(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the user the API key belongs to.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, "GET", "/v1/me", nil, &resp); err != nil {
		return nil, err
	}
	if resp.UserID == 0 {
		return nil, errkind.New(errkind.InvalidServerResponse, "me without userId")
	}
	return &resp, nil
}

// GetForm fetches a form structure.
func (c *Client) GetForm(ctx context.Context, structureID int64) (*models.Form, error) {
	var form models.Form
	if err := c.do(ctx, "GET", "/v1/forms/"+strconv.FormatInt(structureID, 10), nil, &form); err != nil {
		return nil, err
	}
	if form.StructureID == 0 {
		return nil, errkind.New(errkind.InvalidServerResponse, "form without structureId")
	}
	return &form, nil
}

// GetRecord fetches the current remote version of a record.
func (c *Client) GetRecord(ctx context.Context, recordID int64) (*models.Record, error) {
	var rec models.Record
	if err := c.do(ctx, "GET", "/v1/records/"+strconv.FormatInt(recordID, 10), nil, &rec); err != nil {
		return nil, err
	}
	if !rec.HasIdentity() {
		return nil, errkind.New(errkind.InvalidServerResponse, "record without recordId")
	}
	return &rec, nil
}

// CreateRecord sends a record without identity and returns it as stored,
// identity assigned.
func (c *Client) CreateRecord(ctx context.Context, rec *models.Record) (*models.Record, error) {
	var out models.Record
	if err := c.do(ctx, "POST", "/v1/records", rec, &out); err != nil {
		return nil, err
	}
	if !out.HasIdentity() {
		return nil, errkind.New(errkind.InvalidServerResponse, "created record without recordId")
	}
	return &out, nil
}

// UpdateRecord overwrites the remote record with rec.
func (c *Client) UpdateRecord(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if !rec.HasIdentity() {
		return nil, errkind.New(errkind.ValidationFailed, "update requires recordId")
	}
	var out models.Record
	if err := c.do(ctx, "PUT", "/v1/records/"+strconv.FormatInt(rec.ID(), 10), rec, &out); err != nil {
		return nil, err
	}
	if !out.HasIdentity() {
		return nil, errkind.New(errkind.InvalidServerResponse, "updated record without recordId")
	}
	return &out, nil
}

// UploadDocument stores a document blob.
func (c *Client) UploadDocument(ctx context.Context, doc DocumentUpload) (*UploadedDocument, error) {
	var out UploadedDocument
	if err := c.do(ctx, "POST", "/v1/documents", doc, &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, errkind.New(errkind.InvalidServerResponse, "uploaded document without url")
	}
	return &out, nil
}

// GetPortrait downloads a user's portrait image.
func (c *Client) GetPortrait(ctx context.Context, userID int64) ([]byte, error) {
	path := "/v1/users/" + strconv.FormatInt(userID, 10) + "/portrait"
	return c.doRaw(ctx, "GET", path, "", nil)
}

// PutPortrait replaces a user's portrait image.
func (c *Client) PutPortrait(ctx context.Context, userID int64, image []byte) (*PortraitResponse, error) {
	path := "/v1/users/" + strconv.FormatInt(userID, 10) + "/portrait"
	body, err := c.doRaw(ctx, "PUT", path, "application/octet-stream", image)
	if err != nil {
		return nil, err
	}
	var out PortraitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errkind.Wrap(errkind.InvalidServerResponse, fmt.Errorf("unmarshal response: %w", err))
	}
	return &out, nil
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorEnvelope is the {"error": {...}} wrapper around apiError.
type errorEnvelope struct {
	Error *apiError `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errkind.Wrap(errkind.ValidationFailed, fmt.Errorf("marshal request: %w", err))
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return errkind.Wrap(errkind.ValidationFailed, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	respBody, err := c.send(req)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errkind.Wrap(errkind.InvalidServerResponse, fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}

// doRaw sends an optional binary body and returns the raw response body.
func (c *Client) doRaw(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, errkind.Wrap(errkind.ValidationFailed, fmt.Errorf("create request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return c.send(req)
}

// send performs req and maps failures onto error kinds.
func (c *Client) send(req *http.Request) ([]byte, error) {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, errkind.Wrap(errkind.Cancelled, err)
		}
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func statusError(status int, body []byte) error {
	var cause error
	var env errorEnvelope
	var apiErr apiError
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Code != "" {
		cause = env.Error
	} else if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
		cause = &apiErr
	} else {
		cause = fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
	}

	switch status {
	case http.StatusUnauthorized:
		return &errkind.Error{Kind: errkind.AbortedDueToPreconditions, Err: fmt.Errorf("%w: %v", ErrUnauthorized, cause)}
	case http.StatusForbidden:
		return &errkind.Error{Kind: errkind.AbortedDueToPreconditions, Err: fmt.Errorf("%w: %v", ErrForbidden, cause)}
	case http.StatusNotFound:
		return &errkind.Error{Kind: errkind.NotAvailable, Err: fmt.Errorf("%w: %v", ErrNotFound, cause)}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &errkind.Error{Kind: errkind.ValidationFailed, Err: cause}
	default:
		return &errkind.Error{Kind: errkind.Rejected, Err: cause}
	}
}
