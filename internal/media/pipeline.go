// Package media hands finalized objects to the downstream processing
// pipeline (transcoding, thumbnailing) without ever blocking completion.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Request describes one finalized object submitted for processing.
type Request struct {
	Key         string            `json:"key"`
	ContentType string            `json:"contentType"`
	Options     map[string]string `json:"options,omitempty"`
}

// Result is the pipeline's response. All fields are optional; the pipeline is
// an opaque collaborator.
type Result struct {
	ProcessedKey string            `json:"processedKey,omitempty"`
	ThumbnailKey string            `json:"thumbnailKey,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Pipeline processes one finalized object.
type Pipeline interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// HTTPPipeline submits processing requests to a remote media service with
// retrying HTTP semantics.
type HTTPPipeline struct {
	endpoint string
	client   *retryablehttp.Client
}

// NewHTTPPipeline builds a pipeline client for the given endpoint.
func NewHTTPPipeline(endpoint string, timeout time.Duration, maxRetries int) (*HTTPPipeline, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("pipeline endpoint is required")
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.Logger = nil
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return &HTTPPipeline{endpoint: endpoint, client: client}, nil
}

// Process POSTs the request as JSON and decodes the pipeline's result.
func (p *HTTPPipeline) Process(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode pipeline request: %w", err)
	}
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build pipeline request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call media pipeline: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("media pipeline returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode pipeline response: %w", err)
	}
	return result, nil
}

// StubPipeline stands in when no media service is configured. It returns
// placeholder metadata so downstream consumers see a consistent shape.
type StubPipeline struct{}

func (StubPipeline) Process(_ context.Context, req Request) (Result, error) {
	return Result{
		ProcessedKey: req.Key,
		Metadata: map[string]string{
			"pipeline": "stub",
			"source":   req.Key,
		},
	}, nil
}
