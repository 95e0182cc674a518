package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"pixelforge/pkg/config"
	"pixelforge/pkg/errutil"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("inference",
	fx.Provide(
		NewClient,
		func(c *Client) Invoker { return c },
	),
)

// Request is one invocation of the external generative model.
type Request struct {
	Prompt     string
	Parameters map[string]any
	InputImage []byte
}

// Response carries the decoded result image plus whatever metadata the model
// returned alongside it.
type Response struct {
	Image    []byte
	Metadata map[string]any
}

// Invoker is what the processor depends on; Client is the production
// implementation.
type Invoker interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	backoff    []time.Duration
}

func NewClient(cfg *config.Config) *Client {
	backoff := cfg.Inference.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Inference.RequestTimeout},
		endpoint:   cfg.Inference.Endpoint,
		apiKey:     cfg.Inference.APIKey,
		model:      cfg.Inference.Model,
		backoff:    backoff,
	}
}

type apiRequest struct {
	Model      string         `json:"model"`
	Prompt     string         `json:"prompt"`
	Parameters map[string]any `json:"parameters,omitempty"`
	InputImage string         `json:"input_image,omitempty"`
}

type apiResponse struct {
	Success  bool           `json:"success"`
	Error    string         `json:"error,omitempty"`
	Image    string         `json:"image,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Generate calls the model, retrying transport-level failures over the fixed
// backoff schedule. An application-level failure (success=false) is terminal
// and never retried.
func (c *Client) Generate(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(apiRequest{
		Model:      c.model,
		Prompt:     req.Prompt,
		Parameters: req.Parameters,
		InputImage: base64.StdEncoding.EncodeToString(req.InputImage),
	})
	if err != nil {
		return nil, errutil.Inference(err, "marshal request")
	}

	var lastErr error
	attempts := len(c.backoff)

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			zap.L().Warn("inference attempt failed, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", c.backoff[attempt-1]),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(c.backoff[attempt-1]):
			case <-ctx.Done():
				return nil, errutil.Inference(ctx.Err(), "context canceled during backoff")
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, errutil.Inference(lastErr, "all %d attempts failed", attempts)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errutil.Inference(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transientError{errutil.Inference(err, "transport")}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 500 {
		return nil, transientError{errutil.Inference(nil, "server status %d", httpResp.StatusCode)}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, errutil.Inference(nil, "unexpected status %d", httpResp.StatusCode)
	}

	var decoded apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, errutil.ResponseFormat("decode body: %v", err)
	}

	if !decoded.Success {
		msg := decoded.Error
		if msg == "" {
			msg = "model reported failure"
		}
		return nil, errutil.Inference(nil, "%s", msg)
	}

	if decoded.Image == "" {
		return nil, errutil.ResponseFormat("response missing image")
	}

	image, err := base64.StdEncoding.DecodeString(decoded.Image)
	if err != nil {
		return nil, errutil.ResponseFormat("image is not valid base64: %v", err)
	}

	return &Response{Image: image, Metadata: decoded.Metadata}, nil
}

type transientError struct{ error }

func (e transientError) Unwrap() error { return e.error }

func isTransient(err error) bool {
	_, ok := err.(transientError)
	return ok
}

var _ Invoker = (*Client)(nil)
