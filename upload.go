package batchup

import (
	"context"
	"fmt"
	"path"
	"slices"
	"time"

	"github.com/samber/lo"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/internal/pool"
	"github.com/packlane/batchup/uptypes"
	"github.com/packlane/batchup/workerapi"
)

// UploadDir scans root on the configured filesystem and uploads every
// regular file found as one batch.
func (c *Client) UploadDir(ctx context.Context, root string, opts ...uptypes.BatchOption) (*uptypes.BatchResult, error) {
	tasks, err := c.scanner.Scan(ctx, root)
	if err != nil {
		return nil, uperrors.NewError("uploadDir", err).WithPath(root)
	}
	if len(tasks) == 0 {
		return nil, uperrors.NewError("uploadDir", uperrors.ErrInvalidInput).
			WithPath(root).
			WithMessage("no files found under root")
	}

	opts = append([]uptypes.BatchOption{WithRootPath(root)}, opts...)
	return c.UploadBatch(ctx, tasks, opts...)
}

// UploadBatch uploads a prepared set of tasks as one batch. Individual file
// failures do not stop the batch: surviving files are uploaded and the batch
// is finalized with the failures listed in the result. Only when every file
// fails is the batch itself failed, in which case finalize is skipped.
func (c *Client) UploadBatch(ctx context.Context, tasks []*uptypes.UploadTask, opts ...uptypes.BatchOption) (*uptypes.BatchResult, error) {
	if err := validateTasks(tasks); err != nil {
		return nil, uperrors.NewError("uploadBatch", err)
	}

	var batchCfg uptypes.BatchOptionConfig
	for _, opt := range opts {
		opt(&batchCfg)
	}

	batch := &uptypes.BatchContext{
		Tasks:     tasks,
		CreatedAt: time.Now(),
	}
	for _, t := range tasks {
		batch.TotalBytes += t.Size
	}

	initResp, err := c.worker.InitBatch(ctx, &workerapi.InitBatchRequest{
		Uploader:  c.config.Uploader,
		RootPath:  batchCfg.RootPath,
		ParentPI:  batchCfg.ParentPI,
		FileCount: len(tasks),
		TotalSize: batch.TotalBytes,
		Metadata:  batchCfg.Metadata,
	})
	if err != nil {
		return nil, err
	}
	batch.BatchID = initResp.BatchID
	batch.SessionID = initResp.SessionID

	observer := c.config.Observer
	if batchCfg.Observer != nil {
		observer = batchCfg.Observer
	}
	c.runTasks(ctx, batch, observer)

	result := &uptypes.BatchResult{
		BatchID:   batch.BatchID,
		SessionID: batch.SessionID,
	}
	for _, t := range tasks {
		switch t.Status {
		case uptypes.TaskCompleted:
			result.FilesUploaded++
			result.BytesUploaded += t.BytesUploaded
		case uptypes.TaskFailed:
			result.FilesFailed++
		}
	}
	result.Failed = lo.FilterMap(tasks, func(t *uptypes.UploadTask, _ int) (uptypes.FailedFile, bool) {
		return uptypes.FailedFile{LogicalPath: t.LogicalPath, Error: t.Error}, t.Status == uptypes.TaskFailed
	})

	if result.FilesUploaded == 0 {
		// Nothing survived: there is nothing for the service to enqueue,
		// so the batch is failed without a finalize call.
		result.Duration = time.Since(batch.CreatedAt)
		return result, uperrors.NewError("uploadBatch", uperrors.ErrBatchFailed).
			WithBatch(batch.BatchID).
			WithMessage(fmt.Sprintf("all %d files failed", result.FilesFailed))
	}

	finResp, err := c.worker.FinalizeBatch(ctx, batch.BatchID)
	if err != nil {
		return nil, err
	}
	batch.FinalizedAt = time.Now()
	result.EnqueuedCount = finResp.FilesUploaded
	result.StoragePrefix = finResp.StoragePrefix
	result.Duration = batch.FinalizedAt.Sub(batch.CreatedAt)
	return result, nil
}

// runTasks drives all file transfers for one batch with bounded concurrency.
// Task status and progress are written only from the sequential settle
// callback, so no locking is needed around the aggregate.
func (c *Client) runTasks(ctx context.Context, batch *uptypes.BatchContext, observer uptypes.ProgressObserver) {
	progress := uptypes.Progress{
		TotalFiles: len(batch.Tasks),
		TotalBytes: batch.TotalBytes,
	}

	poolTasks := make([]pool.Task, len(batch.Tasks))
	for i, t := range batch.Tasks {
		task := t
		poolTasks[i] = func(ctx context.Context) error {
			return c.uploadOne(ctx, batch.BatchID, task)
		}
	}

	pool.ContinueAll(ctx, c.config.ParallelUploads, poolTasks, func(s pool.Settle) {
		task := batch.Tasks[s.Index]
		task.CompletedAt = time.Now()
		if s.Err != nil {
			task.Status = uptypes.TaskFailed
			task.Error = s.Err.Error()
			progress.FilesFailed++
		} else {
			task.Status = uptypes.TaskCompleted
			task.BytesUploaded = task.Size
			progress.FilesCompleted++
			progress.BytesUploaded += task.Size
		}
		if observer != nil {
			observer.Update(progress)
		}
	})
}

// uploadOne transfers a single file: start, put (simple or multipart as the
// service directed), complete. Any error fails this file only.
func (c *Client) uploadOne(ctx context.Context, batchID string, task *uptypes.UploadTask) error {
	task.Status = uptypes.TaskUploading
	task.StartedAt = time.Now()

	start, err := c.worker.StartFile(ctx, batchID, &workerapi.StartFileRequest{
		FileName:         path.Base(task.LogicalPath),
		FileSize:         task.Size,
		LogicalPath:      task.LogicalPath,
		ContentType:      task.ContentType,
		CID:              task.CID,
		ProcessingConfig: c.config.ProcessingConfig,
	})
	if err != nil {
		return err
	}
	task.StorageKey = start.StorageKey
	task.UploadID = start.UploadID

	body, err := c.taskBody(task)
	if err != nil {
		return uperrors.NewError("uploadFile", err).WithBatch(batchID).WithPath(task.LogicalPath)
	}

	// The service's routing decision is authoritative: a small file may
	// still arrive as multipart and must be honored as such.
	switch start.UploadType {
	case workerapi.UploadTypeMultipart:
		urls, err := partURLs(start.PresignedParts)
		if err != nil {
			return uperrors.NewError("uploadFile", err).WithBatch(batchID).WithPath(task.LogicalPath)
		}
		parts, err := c.parts.Upload(ctx, body, urls, start.PartSize, c.config.ParallelParts, task.LogicalPath)
		if err != nil {
			return err
		}
		task.Parts = parts
		return c.worker.CompleteFile(ctx, batchID, &workerapi.CompleteFileRequest{
			StorageKey: start.StorageKey,
			UploadID:   start.UploadID,
			Parts: lo.Map(parts, func(p uptypes.PartInfo, _ int) workerapi.CompletedPart {
				return workerapi.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag}
			}),
		})

	case workerapi.UploadTypeSimple:
		if err := c.putter.PutObject(ctx, start.PresignedURL, body, task.ContentType, task.LogicalPath); err != nil {
			return err
		}
		return c.worker.CompleteFile(ctx, batchID, &workerapi.CompleteFileRequest{
			StorageKey: start.StorageKey,
		})

	default:
		return uperrors.NewError("uploadFile",
			fmt.Errorf("%w: unknown upload type %q", uperrors.ErrInvalidInput, start.UploadType)).
			WithBatch(batchID).
			WithPath(task.LogicalPath)
	}
}

// partURLs orders presigned part URLs by their stated part number. The wire
// contract carries part identity in part_number, not in array position, so
// the list must be sorted before chunks are assigned to URLs. A sequence
// that is not exactly 1..N fails the part contract before any byte is sent.
func partURLs(parts []workerapi.PresignedPart) ([]string, error) {
	sorted := append([]workerapi.PresignedPart(nil), parts...)
	slices.SortFunc(sorted, func(a, b workerapi.PresignedPart) int {
		return a.PartNumber - b.PartNumber
	})
	urls := make([]string, len(sorted))
	for i, p := range sorted {
		if p.PartNumber != i+1 {
			return nil, fmt.Errorf("%w: presigned part numbers are not a contiguous 1..%d sequence",
				uperrors.ErrPartContract, len(sorted))
		}
		urls[i] = p.URL
	}
	return urls, nil
}

// taskBody returns the file content, preferring in-memory bodies over the
// filesystem.
func (c *Client) taskBody(task *uptypes.UploadTask) ([]byte, error) {
	if task.Body != nil {
		return task.Body, nil
	}
	data, err := c.config.Filesystem.ReadFile(task.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", task.LocalPath, err)
	}
	return data, nil
}

// validateTasks rejects a batch before any network call is made.
func validateTasks(tasks []*uptypes.UploadTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: batch has no files", uperrors.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.LogicalPath == "" {
			return fmt.Errorf("%w: task has empty logical path", uperrors.ErrInvalidInput)
		}
		if _, dup := seen[t.LogicalPath]; dup {
			return fmt.Errorf("%w: duplicate logical path %q", uperrors.ErrInvalidInput, t.LogicalPath)
		}
		seen[t.LogicalPath] = struct{}{}
		if t.Body == nil && t.LocalPath == "" {
			return fmt.Errorf("%w: task %q has no content source", uperrors.ErrInvalidInput, t.LogicalPath)
		}
	}
	return nil
}
