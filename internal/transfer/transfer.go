// Package transfer performs single HTTP PUT operations against presigned
// URLs, with retry on transient failure.
//
// A simple transfer uploads a whole file body; a part transfer uploads one
// byte range of a multipart upload and returns the storage backend's ETag.
// Both retry with the backoff policy; retryability is decided where the
// failure is observed and tagged on the error, never inferred later.
package transfer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/internal/backoff"
	"github.com/packlane/batchup/uptypes"
)

// Putter uploads bodies to presigned URLs.
type Putter struct {
	client *http.Client
	opts   uptypes.RetryOptions
	policy *backoff.Policy
}

// New creates a Putter. A nil client falls back to http.DefaultClient.
func New(client *http.Client, opts uptypes.RetryOptions) *Putter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Putter{
		client: client,
		opts:   opts,
		policy: backoff.New(opts),
	}
}

// PutObject performs a simple transfer: one PUT of the full file body.
// The content type is set as a request header when known.
func (p *Putter) PutObject(ctx context.Context, url string, body []byte, contentType, path string) error {
	return p.withRetry(ctx, func() error {
		_, err := p.put(ctx, url, body, contentType, path)
		return err
	})
}

// PutPart performs a part transfer: one PUT of one byte range, returning
// the ETag from the response with surrounding quotes stripped. A 2xx
// response without an ETag is a failure: the completion call needs a token
// for every part, so an unverifiable upload is worthless.
func (p *Putter) PutPart(ctx context.Context, url string, body []byte, path string) (string, error) {
	var etag string
	err := p.withRetry(ctx, func() error {
		tag, err := p.put(ctx, url, body, "", path)
		if err != nil {
			return err
		}
		if tag == "" {
			return &uperrors.UploadError{
				Path:      path,
				Retryable: false,
				Err:       uperrors.ErrMissingETag,
			}
		}
		etag = tag
		return nil
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

// put performs exactly one PUT attempt and classifies the outcome.
func (p *Putter) put(ctx context.Context, url string, body []byte, contentType, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return "", &uperrors.UploadError{Path: path, Retryable: false, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport failure: connection refused, timeout. Always retryable.
		return "", &uperrors.UploadError{Path: path, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return strings.Trim(resp.Header.Get("ETag"), `"`), nil
	}

	ue := &uperrors.UploadError{
		Path:       path,
		StatusCode: resp.StatusCode,
		Retryable:  true,
		Err:        fmt.Errorf("storage returned %s", resp.Status),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		ue.RetryAfter = retryAfterHeader(resp)
	}
	return "", ue
}

// retryAfterHeader parses a Retry-After header given in seconds.
func retryAfterHeader(resp *http.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (p *Putter) withRetry(ctx context.Context, attempt func() error) error {
	return retry.Do(
		attempt,
		retry.Attempts(p.opts.Attempts()),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(p.retryable),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			hint, _ := uperrors.RetryAfterHint(err)
			return p.policy.Delay(n, hint)
		}),
	)
}

func (p *Putter) retryable(err error) bool {
	if p.opts.RetryIf != nil {
		return p.opts.RetryIf(err)
	}
	return uperrors.IsRetryable(err)
}
