package workerapi

// Upload types the coordinating service can instruct for one file.
const (
	UploadTypeSimple    = "simple"
	UploadTypeMultipart = "multipart"
)

// InitBatchRequest registers a new batch with the coordinating service.
type InitBatchRequest struct {
	Uploader  string            `json:"uploader"`
	RootPath  string            `json:"root_path"`
	ParentPI  string            `json:"parent_pi,omitempty"`
	FileCount int               `json:"file_count"`
	TotalSize int64             `json:"total_size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InitBatchResponse carries the identifiers the service assigned.
type InitBatchResponse struct {
	BatchID   string `json:"batch_id"`
	SessionID string `json:"session_id"`
}

// StartFileRequest asks the service for transfer instructions for one file.
type StartFileRequest struct {
	FileName         string         `json:"file_name"`
	FileSize         int64          `json:"file_size"`
	LogicalPath      string         `json:"logical_path"`
	ContentType      string         `json:"content_type,omitempty"`
	CID              string         `json:"cid,omitempty"`
	ProcessingConfig map[string]any `json:"processing_config,omitempty"`
}

// PresignedPart is one part URL for a multipart transfer.
type PresignedPart struct {
	PartNumber int    `json:"part_number"`
	URL        string `json:"url"`
}

// StartFileResponse is the service's transfer instruction. The service
// alone decides simple versus multipart; the client never infers routing
// from the file size.
type StartFileResponse struct {
	StorageKey   string `json:"r2_key"`
	UploadType   string `json:"upload_type"`
	PresignedURL string `json:"presigned_url,omitempty"`

	UploadID       string          `json:"upload_id,omitempty"`
	PartSize       int64           `json:"part_size,omitempty"`
	PresignedParts []PresignedPart `json:"presigned_urls,omitempty"`
}

// CompletedPart is one uploaded chunk's completion token.
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// CompleteFileRequest reports one finished file. Parts is present only for
// multipart transfers and must be sorted by part number ascending.
type CompleteFileRequest struct {
	StorageKey string          `json:"r2_key"`
	UploadID   string          `json:"upload_id,omitempty"`
	Parts      []CompletedPart `json:"parts,omitempty"`
}

// CompleteFileResponse acknowledges a finished file.
type CompleteFileResponse struct {
	Success bool `json:"success"`
}

// FinalizeResponse closes out a batch. FilesUploaded is the count the
// service will enqueue downstream, which may legitimately differ from the
// locally-counted completions.
type FinalizeResponse struct {
	BatchID       string `json:"batch_id"`
	Status        string `json:"status"`
	FilesUploaded int    `json:"files_uploaded"`
	TotalBytes    int64  `json:"total_bytes"`
	StoragePrefix string `json:"r2_prefix"`
}

// errorEnvelope is the service's error response shape.
type errorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
