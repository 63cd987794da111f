package batchup

import (
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/fs/billy"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/internal/multipart"
	"github.com/packlane/batchup/internal/scanner"
	"github.com/packlane/batchup/internal/transfer"
	"github.com/packlane/batchup/uptypes"
	"github.com/packlane/batchup/workerapi"
)

// Client orchestrates batch uploads against a coordinating service.
// It is safe for concurrent use.
type Client struct {
	config  uptypes.ClientConfig
	worker  *workerapi.Client
	putter  *transfer.Putter
	parts   *multipart.Coordinator
	scanner *scanner.Scanner
}

// New creates a Client for the coordinating service at workerURL.
func New(workerURL string, opts ...uptypes.Option) (*Client, error) {
	if strings.TrimSpace(workerURL) == "" {
		return nil, uperrors.NewError("new", uperrors.ErrInvalidInput).
			WithMessage("worker URL is required")
	}

	config := uptypes.ClientConfig{
		WorkerURL:       workerURL,
		Uploader:        "batchup",
		ParallelUploads: 5,
		ParallelParts:   5,
		Retry:           uptypes.DefaultRetryOptions(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Filesystem == nil {
		config.Filesystem = billy.NewOSFS("/")
	}

	putter := transfer.New(config.HTTPClient, config.Retry)
	return &Client{
		config:  config,
		worker:  workerapi.New(workerURL, config.HTTPClient, config.Retry),
		putter:  putter,
		parts:   multipart.New(putter),
		scanner: scanner.New(config.Filesystem),
	}, nil
}
