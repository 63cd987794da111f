// Package scanner walks a directory tree and produces the upload tasks for
// one batch.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/packlane/batchup/uptypes"
)

// DefaultContentType is used when content type detection fails.
const DefaultContentType = "application/octet-stream"

// Scanner discovers files under a root directory.
type Scanner struct {
	filesystem fs.Filesystem
}

// New creates a Scanner over the provided filesystem.
func New(filesystem fs.Filesystem) *Scanner {
	return &Scanner{filesystem: filesystem}
}

// Scan walks root and returns one pending UploadTask per regular file.
// Logical paths are slash-separated and relative to root; each task carries
// the file's size, sniffed content type and sha256 content address.
func (s *Scanner) Scan(ctx context.Context, root string) ([]*uptypes.UploadTask, error) {
	var tasks []*uptypes.UploadTask

	err := s.filesystem.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}

		data, err := s.filesystem.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		tasks = append(tasks, &uptypes.UploadTask{
			LogicalPath: filepath.ToSlash(relPath),
			LocalPath:   path,
			Size:        info.Size(),
			ContentType: detectContentType(path, data),
			CID:         hex.EncodeToString(sum[:]),
			Status:      uptypes.TaskPending,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

// detectContentType sniffs the content type from the file bytes. Generic
// sniff results (octet-stream, plain text) defer to extension-based lookup,
// which is more specific for source-like files.
func detectContentType(path string, data []byte) string {
	sniffed := ""
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt != nil {
			sniffed = mt.String()
		}
	}

	if sniffed == "" || sniffed == DefaultContentType || strings.HasPrefix(sniffed, "text/plain") {
		ext := strings.ToLower(filepath.Ext(path))
		if ext != "" {
			if byExt := mime.TypeByExtension(ext); byExt != "" {
				return byExt
			}
		}
	}

	if sniffed != "" && sniffed != DefaultContentType {
		return sniffed
	}
	return DefaultContentType
}
