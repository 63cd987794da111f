// Package batchup uploads batches of files to object storage through
// presigned URLs issued by a coordinating service. The client never holds
// storage credentials: it asks the service for write-scoped URLs per file
// (or per chunk, for multipart transfers), pushes bytes with plain HTTP
// PUTs, and reports completions back so the service can enqueue downstream
// processing.
//
// Basic usage:
//
//	client, err := batchup.New("https://worker.example.com",
//		batchup.WithParallelUploads(8),
//	)
//	if err != nil {
//		return err
//	}
//	result, err := client.UploadDir(ctx, "/data/site")
//
// Individual file failures do not abort a batch; they are retried with
// exponential backoff and, if exhausted, reported in the result's Failed
// list while the rest of the batch completes.
package batchup
