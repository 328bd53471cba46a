// Package veo implements the video generation provider on the Gemini API
// long-running prediction endpoints.
package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/veoanimator/server/internal/module/generation"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel      = "veo-3.1-fast-generate-preview"
	DefaultResolution = "1080p"

	apiKeyHeader = "x-goog-api-key"
	maxErrorBody = 64 << 10
)

// Config holds provider client configuration.
type Config struct {
	BaseURL string
	Model   string
	// APIKey is used when a request carries no access token.
	APIKey string
}

// Client talks to the Veo prediction API.
type Client struct {
	client *http.Client
	config *Config
	logger *zap.Logger
}

// NewClient creates a new Veo client with the given HTTP client.
func NewClient(httpClient *http.Client, cfg *Config, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client: httpClient,
		config: cfg,
		logger: logger.Named("veo"),
	}
}

// CreateOperation submits an image-to-video prediction.
func (c *Client) CreateOperation(ctx context.Context, req *generation.CreateRequest) (*generation.Operation, error) {
	key, err := c.apiKey(req.AccessToken)
	if err != nil {
		return nil, err
	}

	resolution := req.Resolution
	if resolution == "" {
		resolution = DefaultResolution
	}
	sampleCount := req.SampleCount
	if sampleCount <= 0 {
		sampleCount = 1
	}

	body, err := json.Marshal(&predictRequest{
		Instances: []instance{{
			Prompt: req.Prompt,
			Image: &inputImage{
				BytesBase64Encoded: req.Image.Base64,
				MimeType:           req.Image.MIMEType,
			},
		}},
		Parameters: parameters{
			SampleCount: sampleCount,
			Resolution:  resolution,
			AspectRatio: string(req.AspectRatio),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.config.BaseURL, c.config.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, key)

	var op operation
	if err := c.doJSON(httpReq, &op); err != nil {
		return nil, err
	}
	if op.Name == "" && !op.Done {
		return nil, fmt.Errorf("provider returned an operation without a name")
	}

	c.logger.Debug("prediction submitted", zap.String("operation", op.Name))
	return toOperation(&op), nil
}

// RefreshOperation fetches the latest state of an operation.
func (c *Client) RefreshOperation(ctx context.Context, name, accessToken string) (*generation.Operation, error) {
	key, err := c.apiKey(accessToken)
	if err != nil {
		return nil, err
	}

	endpoint := c.config.BaseURL + "/" + strings.TrimLeft(name, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set(apiKeyHeader, key)

	var op operation
	if err := c.doJSON(httpReq, &op); err != nil {
		return nil, err
	}
	if op.Name == "" {
		op.Name = name
	}
	return toOperation(&op), nil
}

// Download fetches a generated video with the key in the "key" query parameter.
func (c *Client) Download(ctx context.Context, uri, accessToken string) (*generation.Video, error) {
	key, err := c.apiKey(accessToken)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse video uri: %w", err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, &generation.HTTPError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}

	mimeType := "video/mp4"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && strings.HasPrefix(mt, "video/") {
			mimeType = mt
		}
	}

	c.logger.Debug("video downloaded", zap.Int("bytes", len(data)), zap.String("mime_type", mimeType))
	return &generation.Video{Data: data, MIMEType: mimeType}, nil
}

func (c *Client) apiKey(accessToken string) (string, error) {
	if accessToken != "" {
		return accessToken, nil
	}
	if c.config.APIKey != "" {
		return c.config.APIKey, nil
	}
	return "", generation.NewError(generation.KindAuth, "no API key selected", nil)
}

// doJSON executes req and decodes a 2xx body into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// decodeError turns a failed response into a *generation.HTTPError
// carrying the API's own message when the body has one.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	httpErr := &generation.HTTPError{StatusCode: resp.StatusCode}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		httpErr.Message = errResp.Error.Message
	}
	return httpErr
}

func toOperation(op *operation) *generation.Operation {
	out := &generation.Operation{
		Name: op.Name,
		Done: op.Done,
	}
	if op.Metadata != nil {
		out.State = op.Metadata.State
	}
	if op.Error != nil {
		out.Error = &generation.OperationError{
			Code:    op.Error.Code,
			Message: op.Error.Message,
			Status:  op.Error.Status,
		}
	}
	if op.Response != nil {
		for _, s := range op.Response.GenerateVideoResponse.GeneratedSamples {
			if s.Video.URI != "" {
				out.VideoURIs = append(out.VideoURIs, s.Video.URI)
			}
		}
	}
	return out
}

// Compile-time interface check
var _ generation.Provider = (*Client)(nil)
