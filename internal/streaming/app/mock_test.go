package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"video_processing_service/internal/streaming/domain"
	"video_processing_service/internal/streaming/repository"
	"video_processing_service/pkg/database"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/storagekey"

	"github.com/stretchr/testify/mock"
)

// fakeJobStore 記憶體版 JobStore，交易失敗時整批還原
type fakeJobStore struct {
	mu       sync.Mutex
	videos   map[string]domain.Video
	requests map[string]domain.ProcessingRequest
	outbox   []domain.OutboxEvent

	// failOn 讓指定的交易內操作失敗: "video", "request", "outbox", "transition", "processed"
	failOn string
	txErr  error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		videos:   map[string]domain.Video{},
		requests: map[string]domain.ProcessingRequest{},
	}
}

func (s *fakeJobStore) snapshot() (map[string]domain.Video, map[string]domain.ProcessingRequest, []domain.OutboxEvent) {
	videos := make(map[string]domain.Video, len(s.videos))
	for k, v := range s.videos {
		videos[k] = v
	}
	requests := make(map[string]domain.ProcessingRequest, len(s.requests))
	for k, v := range s.requests {
		requests[k] = v
	}
	outbox := append([]domain.OutboxEvent(nil), s.outbox...)
	return videos, requests, outbox
}

func (s *fakeJobStore) Transaction(_ context.Context, fn func(tx repository.JobTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	videos, requests, outbox := s.snapshot()
	if err := fn(&fakeJobTx{s: s}); err != nil {
		s.videos, s.requests, s.outbox = videos, requests, outbox
		return err
	}
	return nil
}

func (s *fakeJobStore) GetRequest(_ context.Context, id string) (*domain.ProcessingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, errprocess.New(errprocess.ErrNotFound, fmt.Sprintf("request[%s] get", id), nil)
	}
	return &req, nil
}

func (s *fakeJobStore) ClaimRequest(_ context.Context, id string, now time.Time, policy domain.RetryPolicy) (*domain.ProcessingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, errprocess.New(errprocess.ErrNotFound, fmt.Sprintf("request[%s] get", id), nil)
	}
	if err := req.CheckStartable(now, policy); err != nil {
		return nil, err
	}
	req.Status = domain.StatusProcessing
	req.Attempts++
	req.StartedAt = &now
	req.UpdatedAt = now
	s.requests[id] = req
	return &req, nil
}

// holdsClaim 與 SQL 的 id + status + attempts 條件相同
func holdsClaim(req domain.ProcessingRequest, ok bool, attempt int) bool {
	return ok && req.Status == domain.StatusProcessing && req.Attempts == attempt
}

func (s *fakeJobStore) MarkFailed(_ context.Context, id string, attempt int, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !holdsClaim(req, ok, attempt) {
		return false, nil
	}
	req.Status = domain.StatusFailed
	req.LastError = reason
	s.requests[id] = req
	return true, nil
}

func (s *fakeJobStore) ReleaseClaim(_ context.Context, id string, attempt int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !holdsClaim(req, ok, attempt) {
		return false, nil
	}
	req.Status = domain.StatusAppending
	req.Attempts--
	req.StartedAt = nil
	s.requests[id] = req
	return true, nil
}

func (s *fakeJobStore) RelayOutbox(_ context.Context, limit int, publish func(domain.OutboxEvent) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	published := 0
	for i := range s.outbox {
		if published == limit {
			break
		}
		if s.outbox[i].PublishedAt != nil {
			continue
		}
		if err := publish(s.outbox[i]); err != nil {
			if published > 0 {
				return published, nil
			}
			return 0, err
		}
		now := time.Now()
		s.outbox[i].PublishedAt = &now
		published++
	}
	return published, nil
}

func (s *fakeJobStore) request(id string) domain.ProcessingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

func (s *fakeJobStore) video(id string) (domain.Video, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	return v, ok
}

func (s *fakeJobStore) pendingOutbox() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.outbox {
		if ev.PublishedAt == nil {
			n++
		}
	}
	return n
}

// seed 直接寫入狀態，略過交易
func (s *fakeJobStore) seed(v domain.Video, req domain.ProcessingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[v.ID] = v
	s.requests[req.ID] = req
}

type fakeJobTx struct {
	s *fakeJobStore
}

func (t *fakeJobTx) fail(op string) error {
	if t.s.failOn != op {
		return nil
	}
	if t.s.txErr != nil {
		return t.s.txErr
	}
	return errprocess.New(errprocess.ErrPersistence, op+" write failed", nil)
}

func (t *fakeJobTx) CreateVideo(video *domain.Video) error {
	if err := t.fail("video"); err != nil {
		return err
	}
	if _, ok := t.s.videos[video.ID]; ok {
		return errprocess.New(errprocess.ErrConflict, fmt.Sprintf("video[%s] create", video.ID), nil)
	}
	v := *video
	v.CreatedAt = time.Now()
	t.s.videos[v.ID] = v
	return nil
}

func (t *fakeJobTx) CreateRequest(req *domain.ProcessingRequest) error {
	if err := t.fail("request"); err != nil {
		return err
	}
	for _, r := range t.s.requests {
		if r.VideoID == req.VideoID && r.Status != domain.StatusFinished {
			return errprocess.New(errprocess.ErrConflict, fmt.Sprintf("request for video[%s] create", req.VideoID), nil)
		}
	}
	r := *req
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	t.s.requests[r.ID] = r
	return nil
}

func (t *fakeJobTx) AppendOutbox(event *domain.OutboxEvent) error {
	if err := t.fail("outbox"); err != nil {
		return err
	}
	ev := *event
	ev.CreatedAt = time.Now()
	t.s.outbox = append(t.s.outbox, ev)
	return nil
}

func (t *fakeJobTx) TransitionRequest(id string, attempt int, from, to domain.ProcessingStatus) (bool, error) {
	if err := t.fail("transition"); err != nil {
		return false, err
	}
	r, ok := t.s.requests[id]
	if !ok || r.Status != from || r.Attempts != attempt {
		return false, nil
	}
	r.Status = to
	t.s.requests[id] = r
	return true, nil
}

func (t *fakeJobTx) MarkVideoProcessed(videoID string) (bool, error) {
	if err := t.fail("processed"); err != nil {
		return false, err
	}
	v, ok := t.s.videos[videoID]
	if !ok {
		return false, nil
	}
	v.Processed = true
	t.s.videos[videoID] = v
	return true, nil
}

type storedObject struct {
	body        []byte
	contentType string
}

// memStorage 記憶體物件儲存
type memStorage struct {
	mu      sync.Mutex
	objects map[string]storedObject
	// putErr 指定 key 上傳失敗
	putErr map[string]error
	puts   []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string]storedObject{}, putErr: map[string]error{}}
}

func (m *memStorage) key(name string, temporary bool) string {
	if temporary {
		return storagekey.Temp(name)
	}
	return name
}

func (m *memStorage) Put(_ context.Context, name string, body io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	putErr := m.putErr[name]
	m.mu.Unlock()
	if putErr != nil {
		return putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("objectName[%s] size mismatch %d != %d", name, len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = storedObject{body: data, contentType: contentType}
	m.puts = append(m.puts, name)
	return nil
}

func (m *memStorage) Get(_ context.Context, name string, temporary bool) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[m.key(name, temporary)]
	if !ok {
		return nil, errprocess.New(errprocess.ErrNotFound, fmt.Sprintf("objectName[%s] not found", m.key(name, temporary)), nil)
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (m *memStorage) Exists(_ context.Context, name string, temporary bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[m.key(name, temporary)]
	return ok, nil
}

func (m *memStorage) PresignPut(_ context.Context, name string, temporary bool) (string, error) {
	return "http://storage.local/bucket/" + m.key(name, temporary) + "?X-Amz-Signature=test", nil
}

func (m *memStorage) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *memStorage) object(key string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// MockStorageGateway StorageGateway 的 Mock
type MockStorageGateway struct {
	mock.Mock
}

func (m *MockStorageGateway) Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, name, body, size, contentType)
	return args.Error(0)
}

func (m *MockStorageGateway) Get(ctx context.Context, name string, temporary bool) (io.ReadCloser, error) {
	args := m.Called(ctx, name, temporary)
	if rc, ok := args.Get(0).(io.ReadCloser); ok {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorageGateway) Exists(ctx context.Context, name string, temporary bool) (bool, error) {
	args := m.Called(ctx, name, temporary)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorageGateway) PresignPut(ctx context.Context, name string, temporary bool) (string, error) {
	args := m.Called(ctx, name, temporary)
	return args.String(0), args.Error(1)
}

// MockCatalogRepo CatalogRepo 的 Mock
type MockCatalogRepo struct {
	mock.Mock
}

func (m *MockCatalogRepo) GetProcessedVideo(ctx context.Context, id string) (*domain.Video, error) {
	args := m.Called(ctx, id)
	if v, ok := args.Get(0).(*domain.Video); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCatalogRepo) ListProcessedVideos(ctx context.Context, ownerID string, limit, offset int) ([]domain.Video, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	return args.Get(0).([]domain.Video), args.Error(1)
}

// MockRedisRepo RedisRepository 的 Mock
type MockRedisRepo[T any] struct {
	mock.Mock
}

func (m *MockRedisRepo[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockRedisRepo[T]) Get(ctx context.Context, key string) (T, error) {
	args := m.Called(ctx, key)
	var zero T
	if v, ok := args.Get(0).(T); ok {
		return v, args.Error(1)
	}
	return zero, args.Error(1)
}

var _ database.RedisRepository[domain.VideoMetadata] = (*MockRedisRepo[domain.VideoMetadata])(nil)

// MockEventChannel EventChannel 的 Mock
type MockEventChannel struct {
	mock.Mock
}

func (m *MockEventChannel) Publish(ctx context.Context, ev domain.HandoffEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *MockEventChannel) Consume(ctx context.Context, handler repository.EventHandler) error {
	return m.Called(ctx, handler).Error(0)
}

func (m *MockEventChannel) Close() error {
	return m.Called().Error(0)
}

// countingNotifier 記錄喚醒次數
type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countingNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// transcoderFunc 讓測試以函式提供 Transcoder
type transcoderFunc func(ctx context.Context, inputPath, outputDir string) (*domain.ConversionResult, error)

func (f transcoderFunc) Convert(ctx context.Context, inputPath, outputDir string) (*domain.ConversionResult, error) {
	return f(ctx, inputPath, outputDir)
}

// ladderOutput 模擬兩個解析度的轉檔輸出，並記錄收到的輸入內容
func ladderOutput(seenInput *[]byte) transcoderFunc {
	return func(_ context.Context, inputPath, outputDir string) (*domain.ConversionResult, error) {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, err
		}
		if seenInput != nil {
			*seenInput = data
		}

		files := map[string]string{
			"master.m3u8":      "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nstream_0.m3u8\n",
			"stream_0.m3u8":    "#EXTM3U\nsegment_0_000.ts\n",
			"stream_1.m3u8":    "#EXTM3U\nsegment_1_000.ts\n",
			"segment_0_000.ts": "ts-0",
			"segment_1_000.ts": "ts-1",
			"thumbnail.jpg":    "jpg",
		}
		result := &domain.ConversionResult{}
		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := filepath.Join(outputDir, name)
			if err := os.WriteFile(p, []byte(files[name]), 0o644); err != nil {
				return nil, err
			}
			switch name {
			case "master.m3u8":
				result.MasterPlaylistPath = p
			case "thumbnail.jpg":
				result.ThumbnailPath = p
			default:
				result.SubFilePaths = append(result.SubFilePaths, p)
			}
		}
		return result, nil
	}
}

var errBoom = errors.New("boom")
