package batchup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/uptypes"
	"github.com/packlane/batchup/workerapi"
)

// fakeStorage accepts presigned PUTs and records the bodies it received.
type fakeStorage struct {
	mu     sync.Mutex
	bodies map[string][]byte
	fail   map[string]bool // object path -> always 500
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{bodies: make(map[string][]byte), fail: make(map[string]bool)}
}

func (s *fakeStorage) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		s.bodies[r.URL.Path] = buf.Bytes()
		w.Header().Set("ETag", fmt.Sprintf("%q", "etag"+r.URL.Path))
		w.WriteHeader(http.StatusOK)
	}
}

func (s *fakeStorage) body(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodies[path]
}

// fakeWorker is a scripted coordinating service. route decides per file
// whether the transfer is simple or multipart.
type fakeWorker struct {
	storageURL string
	route      func(req *workerapi.StartFileRequest) *workerapi.StartFileResponse

	mu        sync.Mutex
	started   []string
	completed []workerapi.CompleteFileRequest
	finalized int
}

func (f *fakeWorker) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.URL.Path == "/batches":
			_ = json.NewEncoder(w).Encode(workerapi.InitBatchResponse{BatchID: "b-test", SessionID: "s-test"})

		case strings.HasSuffix(r.URL.Path, "/files/complete"):
			var req workerapi.CompleteFileRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.completed = append(f.completed, req)
			_ = json.NewEncoder(w).Encode(workerapi.CompleteFileResponse{Success: true})

		case strings.HasSuffix(r.URL.Path, "/files"):
			var req workerapi.StartFileRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.started = append(f.started, req.LogicalPath)
			_ = json.NewEncoder(w).Encode(f.route(&req))

		case strings.HasSuffix(r.URL.Path, "/finalize"):
			f.finalized++
			_ = json.NewEncoder(w).Encode(workerapi.FinalizeResponse{
				BatchID:       "b-test",
				Status:        "finalized",
				FilesUploaded: len(f.completed),
				StoragePrefix: "uploads/b-test",
			})

		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeWorker) simpleRoute(req *workerapi.StartFileRequest) *workerapi.StartFileResponse {
	return &workerapi.StartFileResponse{
		StorageKey:   "uploads/b-test/" + req.LogicalPath,
		UploadType:   workerapi.UploadTypeSimple,
		PresignedURL: f.storageURL + "/" + req.LogicalPath,
	}
}

func (f *fakeWorker) multipartRoute(parts int, partSize int64) func(*workerapi.StartFileRequest) *workerapi.StartFileResponse {
	return func(req *workerapi.StartFileRequest) *workerapi.StartFileResponse {
		urls := make([]workerapi.PresignedPart, parts)
		for i := range urls {
			urls[i] = workerapi.PresignedPart{
				PartNumber: i + 1,
				URL:        fmt.Sprintf("%s/%s/part%d", f.storageURL, req.LogicalPath, i+1),
			}
		}
		return &workerapi.StartFileResponse{
			StorageKey:     "uploads/b-test/" + req.LogicalPath,
			UploadType:     workerapi.UploadTypeMultipart,
			UploadID:       "mp-" + req.LogicalPath,
			PartSize:       partSize,
			PresignedParts: urls,
		}
	}
}

type harness struct {
	worker  *fakeWorker
	storage *fakeStorage
	client  *Client
}

func newHarness(t *testing.T, opts ...uptypes.Option) *harness {
	t.Helper()

	storage := newFakeStorage()
	storageSrv := httptest.NewServer(storage.handler())
	t.Cleanup(storageSrv.Close)

	worker := &fakeWorker{storageURL: storageSrv.URL}
	worker.route = worker.simpleRoute
	workerSrv := httptest.NewServer(worker.handler())
	t.Cleanup(workerSrv.Close)

	opts = append([]uptypes.Option{
		WithRetryOptions(uptypes.RetryOptions{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
		}),
	}, opts...)

	client, err := New(workerSrv.URL, opts...)
	require.NoError(t, err)
	return &harness{worker: worker, storage: storage, client: client}
}

func memTask(logical string, size int) *uptypes.UploadTask {
	body := bytes.Repeat([]byte{'x'}, size)
	return &uptypes.UploadTask{
		LogicalPath: logical,
		Body:        body,
		Size:        int64(size),
		ContentType: "application/octet-stream",
		Status:      uptypes.TaskPending,
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	updates []uptypes.Progress
}

func (o *recordingObserver) Update(p uptypes.Progress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updates = append(o.updates, p)
}

func (o *recordingObserver) last(t *testing.T) uptypes.Progress {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.updates)
	return o.updates[len(o.updates)-1]
}

func TestUploadBatch_AllSimpleFiles(t *testing.T) {
	observer := &recordingObserver{}
	h := newHarness(t, WithParallelUploads(2), WithObserver(observer))

	tasks := []*uptypes.UploadTask{
		memTask("a.txt", 2048),
		memTask("b.txt", 2048),
		memTask("c.txt", 2048),
	}

	result, err := h.client.UploadBatch(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, "b-test", result.BatchID)
	assert.Equal(t, 3, result.FilesUploaded)
	assert.Equal(t, 0, result.FilesFailed)
	assert.Equal(t, int64(6144), result.BytesUploaded)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 1, h.worker.finalized)
	assert.Equal(t, "uploads/b-test", result.StoragePrefix)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		assert.Len(t, h.storage.body("/"+name), 2048)
	}

	final := observer.last(t)
	assert.Equal(t, 3, final.FilesCompleted)
	assert.Equal(t, int64(6144), final.BytesUploaded)
	assert.Len(t, observer.updates, 3, "one settle event per file")

	for _, task := range tasks {
		assert.Equal(t, uptypes.TaskCompleted, task.Status)
	}
}

func TestUploadBatch_MultipartPartFailureFailsOnlyThatFile(t *testing.T) {
	h := newHarness(t)
	h.worker.route = func(req *workerapi.StartFileRequest) *workerapi.StartFileResponse {
		if req.LogicalPath == "big.bin" {
			return h.worker.multipartRoute(3, 1024)(req)
		}
		return h.worker.simpleRoute(req)
	}
	h.storage.fail["/big.bin/part2"] = true

	tasks := []*uptypes.UploadTask{
		memTask("a.txt", 100),
		memTask("big.bin", 3000),
		memTask("b.txt", 100),
	}

	result, err := h.client.UploadBatch(context.Background(), tasks)
	require.NoError(t, err, "partial failure must not fail the batch")

	assert.Equal(t, 2, result.FilesUploaded)
	assert.Equal(t, 1, result.FilesFailed)
	assert.Equal(t, int64(200), result.BytesUploaded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "big.bin", result.Failed[0].LogicalPath)
	assert.Equal(t, 1, h.worker.finalized, "batch with survivors is still finalized")

	// The failed multipart file must not be reported complete.
	for _, c := range h.worker.completed {
		assert.NotEqual(t, "uploads/b-test/big.bin", c.StorageKey)
	}
}

func TestUploadBatch_AllFailedSkipsFinalize(t *testing.T) {
	h := newHarness(t)
	h.storage.fail["/a.txt"] = true
	h.storage.fail["/b.txt"] = true

	tasks := []*uptypes.UploadTask{
		memTask("a.txt", 100),
		memTask("b.txt", 100),
	}

	result, err := h.client.UploadBatch(context.Background(), tasks)
	require.ErrorIs(t, err, uperrors.ErrBatchFailed)

	assert.Equal(t, 0, h.worker.finalized, "no finalize when nothing survived")
	require.NotNil(t, result)
	assert.Equal(t, 0, result.FilesUploaded)
	assert.Equal(t, 2, result.FilesFailed)
	assert.Len(t, result.Failed, 2)
}

func TestUploadBatch_RoutingFollowsServiceNotSize(t *testing.T) {
	// A tiny file routed as multipart by the service must be chunked anyway.
	h := newHarness(t)
	h.worker.route = h.worker.multipartRoute(2, 5)

	tasks := []*uptypes.UploadTask{memTask("tiny.txt", 10)}

	result, err := h.client.UploadBatch(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesUploaded)

	assert.Len(t, h.storage.body("/tiny.txt/part1"), 5)
	assert.Len(t, h.storage.body("/tiny.txt/part2"), 5)

	require.Len(t, h.worker.completed, 1)
	require.Len(t, h.worker.completed[0].Parts, 2)
	assert.Equal(t, 1, h.worker.completed[0].Parts[0].PartNumber)
	assert.Equal(t, 2, h.worker.completed[0].Parts[1].PartNumber)
	assert.NotEmpty(t, h.worker.completed[0].Parts[0].ETag)
}

func TestUploadBatch_PartURLsFollowPartNumbersNotListOrder(t *testing.T) {
	// The service may list part URLs in any order; chunk assignment must
	// follow each entry's part number.
	h := newHarness(t)
	h.worker.route = func(req *workerapi.StartFileRequest) *workerapi.StartFileResponse {
		return &workerapi.StartFileResponse{
			StorageKey: "uploads/b-test/" + req.LogicalPath,
			UploadType: workerapi.UploadTypeMultipart,
			UploadID:   "mp-1",
			PartSize:   5,
			PresignedParts: []workerapi.PresignedPart{
				{PartNumber: 2, URL: h.worker.storageURL + "/f.bin/part2"},
				{PartNumber: 1, URL: h.worker.storageURL + "/f.bin/part1"},
			},
		}
	}

	task := &uptypes.UploadTask{
		LogicalPath: "f.bin",
		Body:        []byte("AAAAABBBBB"),
		Size:        10,
		Status:      uptypes.TaskPending,
	}

	result, err := h.client.UploadBatch(context.Background(), []*uptypes.UploadTask{task})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesUploaded)

	assert.Equal(t, []byte("AAAAA"), h.storage.body("/f.bin/part1"))
	assert.Equal(t, []byte("BBBBB"), h.storage.body("/f.bin/part2"))
}

func TestUploadBatch_NonContiguousPartNumbersFailTheFile(t *testing.T) {
	h := newHarness(t)
	h.worker.route = func(req *workerapi.StartFileRequest) *workerapi.StartFileResponse {
		return &workerapi.StartFileResponse{
			StorageKey: "uploads/b-test/" + req.LogicalPath,
			UploadType: workerapi.UploadTypeMultipart,
			UploadID:   "mp-1",
			PartSize:   5,
			PresignedParts: []workerapi.PresignedPart{
				{PartNumber: 1, URL: h.worker.storageURL + "/g.bin/part1"},
				{PartNumber: 3, URL: h.worker.storageURL + "/g.bin/part3"},
			},
		}
	}

	task := memTask("g.bin", 10)
	_, err := h.client.UploadBatch(context.Background(), []*uptypes.UploadTask{task})
	require.ErrorIs(t, err, uperrors.ErrBatchFailed)

	assert.Equal(t, uptypes.TaskFailed, task.Status)
	assert.Contains(t, task.Error, "contiguous")
	assert.Empty(t, h.storage.bodies, "no byte may be sent on a broken part contract")
}

func TestUploadBatch_RejectsDuplicateLogicalPaths(t *testing.T) {
	h := newHarness(t)

	tasks := []*uptypes.UploadTask{
		memTask("same.txt", 10),
		memTask("same.txt", 20),
	}

	_, err := h.client.UploadBatch(context.Background(), tasks)
	require.ErrorIs(t, err, uperrors.ErrInvalidInput)
	assert.Empty(t, h.worker.started, "validation must run before any network call")
}

func TestUploadBatch_RejectsEmptyBatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.UploadBatch(context.Background(), nil)
	require.ErrorIs(t, err, uperrors.ErrInvalidInput)
}

func TestNew_RequiresWorkerURL(t *testing.T) {
	_, err := New("  ")
	require.ErrorIs(t, err, uperrors.ErrInvalidInput)
}
