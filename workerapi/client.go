// Package workerapi is the JSON-over-HTTP client for the coordinating
// ("worker") service that issues batch identities and presigned URLs and
// receives completion notifications.
//
// Retry policy follows the service contract: 5xx and 429 are retryable
// (429's Retry-After header feeds the next delay), other 4xx are fatal.
package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/internal/backoff"
	"github.com/packlane/batchup/uptypes"
)

// Client talks to the coordinating service.
type Client struct {
	baseURL string
	client  *http.Client
	opts    uptypes.RetryOptions
	policy  *backoff.Policy
}

// New creates a Client for the service at baseURL.
// A nil httpClient falls back to http.DefaultClient.
func New(baseURL string, httpClient *http.Client, opts uptypes.RetryOptions) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		opts:    opts,
		policy:  backoff.New(opts),
	}
}

// InitBatch registers the batch's file count and total size and returns the
// identifiers the service assigned.
func (c *Client) InitBatch(ctx context.Context, req *InitBatchRequest) (*InitBatchResponse, error) {
	var resp InitBatchResponse
	if err := c.post(ctx, "/batches", req, &resp); err != nil {
		return nil, uperrors.NewError("initBatch", err)
	}
	return &resp, nil
}

// StartFile requests transfer instructions for one file in a batch.
func (c *Client) StartFile(ctx context.Context, batchID string, req *StartFileRequest) (*StartFileResponse, error) {
	var resp StartFileResponse
	path := fmt.Sprintf("/batches/%s/files", url.PathEscape(batchID))
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, uperrors.NewError("startFile", err).WithBatch(batchID).WithPath(req.LogicalPath)
	}
	return &resp, nil
}

// CompleteFile reports one finished file transfer.
func (c *Client) CompleteFile(ctx context.Context, batchID string, req *CompleteFileRequest) error {
	var resp CompleteFileResponse
	path := fmt.Sprintf("/batches/%s/files/complete", url.PathEscape(batchID))
	if err := c.post(ctx, path, req, &resp); err != nil {
		return uperrors.NewError("completeFile", err).WithBatch(batchID)
	}
	if !resp.Success {
		return uperrors.NewError("completeFile", fmt.Errorf("service did not acknowledge completion")).
			WithBatch(batchID)
	}
	return nil
}

// FinalizeBatch notifies the service that the batch is closed.
func (c *Client) FinalizeBatch(ctx context.Context, batchID string) (*FinalizeResponse, error) {
	var resp FinalizeResponse
	path := fmt.Sprintf("/batches/%s/finalize", url.PathEscape(batchID))
	if err := c.post(ctx, path, struct{}{}, &resp); err != nil {
		return nil, uperrors.NewError("finalizeBatch", err).WithBatch(batchID)
	}
	return &resp, nil
}

// post sends one JSON request with retries and decodes the 2xx response
// into out.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: %v", uperrors.ErrInvalidInput, err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return &uperrors.UploadError{Retryable: false, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return &uperrors.UploadError{Retryable: true, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return &uperrors.UploadError{Retryable: false, Err: fmt.Errorf("decoding response: %w", err)}
			}
			return nil
		}

		return c.statusError(resp)
	}

	return retry.Do(
		attempt,
		retry.Attempts(c.opts.Attempts()),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(uperrors.IsRetryable),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			hint, _ := uperrors.RetryAfterHint(err)
			return c.policy.Delay(n, hint)
		}),
	)
}

// statusError classifies a non-2xx response: 5xx and 429 are retryable,
// other 4xx are fatal for the call.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	cause := fmt.Errorf("service returned %s", resp.Status)
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		if envelope.Details != "" {
			cause = fmt.Errorf("service returned %s: %s (%s)", resp.Status, envelope.Error, envelope.Details)
		} else {
			cause = fmt.Errorf("service returned %s: %s", resp.Status, envelope.Error)
		}
	}

	ue := &uperrors.UploadError{
		StatusCode: resp.StatusCode,
		Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		Err:        cause,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if raw := strings.TrimSpace(resp.Header.Get("Retry-After")); raw != "" {
			var secs int
			if _, err := fmt.Sscanf(raw, "%d", &secs); err == nil && secs >= 0 {
				ue.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return ue
}
