// Package multipart coordinates chunked uploads against a set of presigned
// part URLs issued by the coordinating service.
//
// The partition scheme is a shared contract with that service: content is
// split into len(urls) contiguous chunks of ceil(size/len(urls)) bytes (the
// last chunk may be shorter), matching the scheme the service assumed when
// it computed the part count. Chunk boundaries are not negotiable locally.
package multipart

import (
	"context"
	"fmt"
	"slices"
	"sync"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/internal/pool"
	"github.com/packlane/batchup/internal/transfer"
	"github.com/packlane/batchup/uptypes"
)

// Coordinator drives one file's part transfers across a bounded worker pool.
type Coordinator struct {
	putter *transfer.Putter
}

// New creates a Coordinator using the given part transfer primitive.
func New(putter *transfer.Putter) *Coordinator {
	return &Coordinator{putter: putter}
}

// Upload splits data into one chunk per presigned URL, uploads the chunks
// with at most concurrency in flight, and returns the completed parts
// sorted by part number ascending. declaredPartSize is the part size the
// coordinating service reported alongside the URLs; a mismatch between it
// and the local partition fails before any byte is sent. If any part
// exhausts its retries the whole operation fails; partially-uploaded parts
// are not aborted here (orphan cleanup is the coordinating service's job).
func (c *Coordinator) Upload(
	ctx context.Context,
	data []byte,
	urls []string,
	declaredPartSize int64,
	concurrency int,
	path string,
) ([]uptypes.PartInfo, error) {
	if len(urls) == 0 {
		return nil, &uperrors.Error{
			Op:   "multipart",
			Path: path,
			Err:  fmt.Errorf("%w: no presigned part URLs", uperrors.ErrInvalidInput),
		}
	}

	chunkSize := chunkSizeFor(int64(len(data)), len(urls))
	if declaredPartSize > 0 && chunkSize > declaredPartSize {
		return nil, &uperrors.Error{
			Op:   "multipart",
			Path: path,
			Err: fmt.Errorf("%w: %d urls for %d bytes implies %d-byte chunks, service declared %d",
				uperrors.ErrPartContract, len(urls), len(data), chunkSize, declaredPartSize),
		}
	}

	// Parts are collected in completion order, which depends on scheduling.
	parts := make([]uptypes.PartInfo, 0, len(urls))
	var mu sync.Mutex

	tasks := make([]pool.Task, len(urls))
	for i, url := range urls {
		i, url := i, url
		tasks[i] = func(ctx context.Context) error {
			start := int64(i) * chunkSize
			end := start + chunkSize
			if end > int64(len(data)) {
				end = int64(len(data))
			}
			if start > end {
				start = end
			}

			etag, err := c.putter.PutPart(ctx, url, data[start:end], path)
			if err != nil {
				return err
			}

			mu.Lock()
			parts = append(parts, uptypes.PartInfo{PartNumber: i + 1, ETag: etag})
			mu.Unlock()
			return nil
		}
	}

	if err := pool.FailFast(ctx, concurrency, tasks); err != nil {
		return nil, err
	}

	// Completion order is concurrency-dependent; the completion request
	// must never see it. Sort by part number before handing back.
	slices.SortFunc(parts, func(a, b uptypes.PartInfo) int {
		return a.PartNumber - b.PartNumber
	})
	return parts, nil
}

// chunkSizeFor returns ceil(total/parts).
func chunkSizeFor(total int64, parts int) int64 {
	if total == 0 {
		return 0
	}
	return (total + int64(parts) - 1) / int64(parts)
}
