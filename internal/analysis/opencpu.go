package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/paveg/metabulo/internal/errors"
	"github.com/paveg/metabulo/internal/frame"
	"github.com/paveg/metabulo/internal/version"
)

const maxErrorBody = 8 << 10

// OpenCPUClient calls R functions of an OpenCPU package over HTTP.
// Failures without a response are ConnectivityErrors; non-2xx responses are
// RemoteErrors carrying the status and body. Connection failures, 429 and
// 5xx responses are retried with capped exponential backoff.
type OpenCPUClient struct {
	httpClient       *http.Client
	baseURL          string
	pkg              string
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	logger           *slog.Logger
}

// ClientOption configures an OpenCPUClient.
type ClientOption func(*OpenCPUClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OpenCPUClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *OpenCPUClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetry sets the attempt count and backoff bounds.
func WithRetry(maxAttempts int, baseDelay, maxDelay time.Duration) ClientOption {
	return func(c *OpenCPUClient) {
		if maxAttempts > 0 {
			c.retryMaxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			c.retryBaseDelay = baseDelay
		}
		if maxDelay > 0 {
			c.retryMaxDelay = maxDelay
		}
	}
}

// WithClientLogger sets the logger used for retry warnings.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *OpenCPUClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOpenCPUClient returns a client for package pkg on the server at baseURL.
func NewOpenCPUClient(baseURL, pkg string, opts ...ClientOption) *OpenCPUClient {
	c := &OpenCPUClient{
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		baseURL:          strings.TrimRight(baseURL, "/"),
		pkg:              pkg,
		retryMaxAttempts: 3,
		retryBaseDelay:   500 * time.Millisecond,
		retryMaxDelay:    4 * time.Second,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type measuresRequest struct {
	Measures      [][]*float64 `json:"measures"`
	Rows          []string     `json:"rows"`
	Columns       []string     `json:"columns"`
	MaxComponents int          `json:"max_components,omitempty"`
}

type pcaResponse struct {
	X        [][]float64 `json:"x"`
	Sdev     []float64   `json:"sdev"`
	Rotation [][]float64 `json:"rotation"`
}

func newMeasuresRequest(f *frame.Frame, maxComponents int) measuresRequest {
	matrix, valid := f.Matrix()
	measures := make([][]*float64, len(matrix))
	for i, row := range matrix {
		measures[i] = make([]*float64, len(row))
		for j := range row {
			if valid[i][j] {
				measures[i][j] = &row[j]
			}
		}
	}
	return measuresRequest{
		Measures:      measures,
		Rows:          f.RowLabels(),
		Columns:       f.Columns(),
		MaxComponents: maxComponents,
	}
}

// PCA calls the package's pca function. Explained variance is derived from
// the returned component standard deviations.
func (c *OpenCPUClient) PCA(ctx context.Context, f *frame.Frame, maxComponents int) (*PCAResult, error) {
	body, err := c.call(ctx, "PCA", "pca/json", newMeasuresRequest(f, maxComponents))
	if err != nil {
		return nil, err
	}

	var out pcaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.NewRemoteError("PCA", c.endpoint("pca/json"), http.StatusOK, truncate(string(body)))
	}
	return toResult(out, f.RowLabels(), maxComponents), nil
}

func toResult(out pcaResponse, rows []string, maxComponents int) *PCAResult {
	total := 0.0
	for _, s := range out.Sdev {
		total += s * s
	}
	k := len(out.Sdev)
	if maxComponents > 0 && maxComponents < k {
		k = maxComponents
	}

	res := &PCAResult{
		Rows:              rows,
		Scores:            make([][]float64, len(out.X)),
		ExplainedVariance: make([]float64, k),
	}
	for i := range k {
		if total > 0 {
			res.ExplainedVariance[i] = out.Sdev[i] * out.Sdev[i] / total
		}
	}
	for i, row := range out.X {
		res.Scores[i] = row[:min(k, len(row))]
	}
	if len(out.Rotation) > 0 {
		res.Loadings = make([][]float64, k)
		for comp := range k {
			res.Loadings[comp] = make([]float64, len(out.Rotation))
			for j, r := range out.Rotation {
				if comp < len(r) {
					res.Loadings[comp][j] = r[comp]
				}
			}
		}
	}
	return res
}

// Image renders the plot function at path (for example "pca_overview_plot") as PNG.
func (c *OpenCPUClient) Image(ctx context.Context, path string, f *frame.Frame) ([]byte, error) {
	return c.call(ctx, "Image", strings.Trim(path, "/")+"/png", newMeasuresRequest(f, 0))
}

func (c *OpenCPUClient) endpoint(fn string) string {
	return fmt.Sprintf("%s/library/%s/R/%s", c.baseURL, c.pkg, fn)
}

// call posts payload to fn and returns the response body of the first
// successful attempt.
func (c *OpenCPUClient) call(ctx context.Context, op, fn string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError(op, fmt.Errorf("marshal request: %w", err))
	}
	endpoint := c.endpoint(fn)
	backoff := c.retryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, errors.NewConnectivityError(op, endpoint, ctx.Err())
		}

		body, retry, err := c.do(ctx, op, endpoint, data)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry || attempt == c.retryMaxAttempts {
			break
		}

		wait := min(withJitter(backoff), c.retryMaxDelay)
		c.logger.Warn("analysis call failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt,
			"wait", wait,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, errors.NewConnectivityError(op, endpoint, ctx.Err())
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// do performs one attempt and reports whether a failure is retryable.
func (c *OpenCPUClient) do(ctx context.Context, op, endpoint string, data []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, false, errors.NewInternalError(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, isRetryableNetErr(ctx, err), errors.NewConnectivityError(op, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, errors.NewRemoteError(op, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, isRetryableNetErr(ctx, err), errors.NewConnectivityError(op, endpoint, err)
	}
	return body, false, nil
}

// isRetryableNetErr reports whether a transport failure may succeed on a
// new attempt. Cancellation by the caller never does.
func isRetryableNetErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var nerr net.Error
	if stderrors.As(err, &nerr) {
		return true
	}
	return stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int64N(int64(d)/5 + 1))
	return d + jitter
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
