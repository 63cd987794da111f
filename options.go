package batchup

import (
	"net/http"

	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/packlane/batchup/uptypes"
)

// WithHTTPClient sets a custom HTTP client used for both coordinating-service
// calls and object-storage transfers.
func WithHTTPClient(client *http.Client) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.HTTPClient = client
	}
}

// WithUploader sets the uploader identity reported to the coordinating service.
func WithUploader(uploader string) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Uploader = uploader
	}
}

// WithParallelUploads bounds how many files transfer at once.
func WithParallelUploads(n int) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if n > 0 {
			c.ParallelUploads = n
		}
	}
}

// WithParallelParts bounds chunk-level concurrency within one multipart file.
func WithParallelParts(n int) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		if n > 0 {
			c.ParallelParts = n
		}
	}
}

// WithRetryOptions replaces the default retry configuration.
func WithRetryOptions(opts uptypes.RetryOptions) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Retry = opts
	}
}

// WithFilesystem replaces the OS filesystem, mainly for tests.
func WithFilesystem(filesystem fs.Filesystem) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Filesystem = filesystem
	}
}

// WithObserver registers a progress observer. Updates arrive sequentially.
func WithObserver(observer uptypes.ProgressObserver) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.Observer = observer
	}
}

// WithProcessingConfig attaches per-file processing instructions forwarded
// verbatim to the coordinating service.
func WithProcessingConfig(cfg map[string]any) uptypes.Option {
	return func(c *uptypes.ClientConfig) {
		c.ProcessingConfig = cfg
	}
}

// WithRootPath reports the batch's logical root to the coordinating service.
func WithRootPath(root string) uptypes.BatchOption {
	return func(c *uptypes.BatchOptionConfig) {
		c.RootPath = root
	}
}

// WithParentPI links the batch to an existing processing identifier.
func WithParentPI(pi string) uptypes.BatchOption {
	return func(c *uptypes.BatchOptionConfig) {
		c.ParentPI = pi
	}
}

// WithBatchObserver registers a progress observer for one batch run,
// overriding the client-level observer.
func WithBatchObserver(observer uptypes.ProgressObserver) uptypes.BatchOption {
	return func(c *uptypes.BatchOptionConfig) {
		c.Observer = observer
	}
}

// WithMetadata attaches key/value metadata to the batch at init.
func WithMetadata(md map[string]string) uptypes.BatchOption {
	return func(c *uptypes.BatchOptionConfig) {
		c.Metadata = md
	}
}
