// Package spriteforge is a small client for the SpriteForge REST API.
package spriteforge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Synchronous sprite generation can take minutes, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// Job statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the SpriteForge API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// SpriteRequest asks for an atlas of the given motions.
type SpriteRequest struct {
	Prompt     string   `json:"prompt"`
	Style      string   `json:"style,omitempty"`
	Motions    []string `json:"motions"`
	Seed       int64    `json:"seed"`
	Directions []string `json:"directions,omitempty"`
}

// SpriteResult points at the generated atlas and its metadata.
type SpriteResult struct {
	GenerationID string `json:"generationId"`
	AtlasURL     string `json:"atlasUrl"`
	MetaURL      string `json:"metaUrl"`
	CacheKey     string `json:"cacheKey"`
	Cached       bool   `json:"cached"`
}

// ImageRequest asks for a single image. A nil Seed lets the server pick one.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	Resolution  int    `json:"resolution"`
	StylePreset string `json:"stylePreset"`
	Seed        *int64 `json:"seed,omitempty"`
}

// ImageResult is the outcome of a single-image request.
type ImageResult struct {
	GenerationID string `json:"generationId"`
	ImageURL     string `json:"imageUrl"`
	Seed         int64  `json:"seed"`
	Cached       bool   `json:"cached"`
}

// ConceptRequest is the first step of the character wizard. A nil Seed lets
// the server pick one.
type ConceptRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
}

// ConceptResult carries the concept render and the seed that reproduces it.
type ConceptResult struct {
	GenerationID string `json:"generationId"`
	URL          string `json:"url"`
	Seed         int64  `json:"seed"`
	CacheKey     string `json:"cacheKey"`
	Cached       bool   `json:"cached"`
}

// SheetRequest is the second wizard step; Seed is required.
type SheetRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Seed   int64  `json:"seed"`
}

// SheetResult lists the pose sheet, its thumbnail and its tiles in row-major order.
type SheetResult struct {
	GenerationID string   `json:"generationId"`
	URL          string   `json:"url"`
	ThumbURL     string   `json:"thumbUrl"`
	Tiles        []string `json:"tiles"`
	Seed         int64    `json:"seed"`
	CacheKey     string   `json:"cacheKey"`
	Cached       bool     `json:"cached"`
}

// JobAccepted is returned when a job is queued.
type JobAccepted struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// Job is the server-side view of an asynchronous sprite job.
type Job struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	Request    SpriteRequest `json:"request"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"maxRetries"`
	LastError  string        `json:"lastError,omitempty"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	Result     *JobResult    `json:"result,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
	UpdatedAt  int64         `json:"updatedAt"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// JobResult holds the URLs of a finished job.
type JobResult struct {
	GenerationID string `json:"generationId"`
	AtlasURL     string `json:"atlasUrl"`
	MetaURL      string `json:"metaUrl"`
	Cached       bool   `json:"cached"`
}

// Usage describes the caller's quota window.
type Usage struct {
	Used        int `json:"used"`
	Limit       int `json:"limit"`
	Remaining   int `json:"remaining"`
	WindowHours int `json:"windowHours"`
}

// Generation is one entry of the caller's history.
type Generation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Prompt    string    `json:"prompt"`
	Seed      int64     `json:"seed"`
	Style     string    `json:"style"`
	Motions   []string  `json:"motions,omitempty"`
	AtlasURL  string    `json:"atlasUrl,omitempty"`
	MetaURL   string    `json:"metaUrl,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	CacheKey  string    `json:"cacheKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// Motion is one entry of the motion catalog.
type Motion struct {
	Name       string   `json:"name"`
	FrameCount int      `json:"frameCount"`
	FPS        int      `json:"fps"`
	Kind       string   `json:"kind"`
	Directions []string `json:"directions,omitempty"`
	Mirrored   []string `json:"mirrored,omitempty"`
}

// Catalog lists the motions and the defaults used when a request names none.
type Catalog struct {
	Motions  []Motion `json:"motions"`
	Defaults []string `json:"defaults"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("spriteforge api error (%d): %s", e.StatusCode, e.Message)
}

// IsQuotaExceeded reports whether err is a 402 from the server.
func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPaymentRequired
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// GenerateSprites runs the pipeline synchronously.
func (c *Client) GenerateSprites(ctx context.Context, req SpriteRequest) (SpriteResult, error) {
	var out SpriteResult
	if err := c.post(ctx, "/api/v1/sprites/generate", req, &out); err != nil {
		return SpriteResult{}, err
	}
	return out, nil
}

// SubmitJob queues a sprite request.
func (c *Client) SubmitJob(ctx context.Context, req SpriteRequest) (JobAccepted, error) {
	var out JobAccepted
	if err := c.post(ctx, "/api/v1/sprites/jobs", req, &out); err != nil {
		return JobAccepted{}, err
	}
	return out, nil
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/sprites/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WaitForJob polls until the job is done or ctx ends.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GenerateImage runs the single-image path.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	var out ImageResult
	if err := c.post(ctx, "/api/v1/generate", req, &out); err != nil {
		return ImageResult{}, err
	}
	return out, nil
}

// GenerateConcept renders a single character for the wizard's first step.
func (c *Client) GenerateConcept(ctx context.Context, req ConceptRequest) (ConceptResult, error) {
	var out ConceptResult
	if err := c.post(ctx, "/api/v1/sprites/concept", req, &out); err != nil {
		return ConceptResult{}, err
	}
	return out, nil
}

// GenerateSheet renders the full pose sheet for a seed kept from GenerateConcept.
func (c *Client) GenerateSheet(ctx context.Context, req SheetRequest) (SheetResult, error) {
	var out SheetResult
	if err := c.post(ctx, "/api/v1/sprites/sheet", req, &out); err != nil {
		return SheetResult{}, err
	}
	return out, nil
}

// Usage returns the caller's quota usage.
func (c *Client) Usage(ctx context.Context) (Usage, error) {
	var out Usage
	if err := c.get(ctx, "/api/v1/usage", &out); err != nil {
		return Usage{}, err
	}
	return out, nil
}

// History lists the caller's generations, newest first. limit <= 0 uses the
// server default.
func (c *Client) History(ctx context.Context, limit int) ([]Generation, error) {
	endpoint := "/api/v1/generations"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Generations []Generation `json:"generations"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Generations, nil
}

// Motions returns the motion catalog.
func (c *Client) Motions(ctx context.Context) (Catalog, error) {
	var out Catalog
	if err := c.get(ctx, "/api/v1/motions", &out); err != nil {
		return Catalog{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
