package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"video_processing_service/internal/streaming/api/handlers"
	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"
	"video_processing_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockIngestionUseCase struct {
	mock.Mock
}

func (m *MockIngestionUseCase) RegisterVideo(ctx context.Context, req domain.RegisterVideoReq) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockIngestionUseCase) IssueUploadSlot(ctx context.Context) (*domain.UploadSlot, error) {
	args := m.Called(ctx)
	slot, _ := args.Get(0).(*domain.UploadSlot)
	return slot, args.Error(1)
}

func (m *MockIngestionUseCase) GetVideo(ctx context.Context, videoID string) (*domain.VideoMetadata, error) {
	args := m.Called(ctx, videoID)
	meta, _ := args.Get(0).(*domain.VideoMetadata)
	return meta, args.Error(1)
}

func (m *MockIngestionUseCase) ListVideos(ctx context.Context, req domain.ListVideosReq) (*domain.VideoPage, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*domain.VideoPage)
	return page, args.Error(1)
}

func (m *MockIngestionUseCase) GetMasterPlaylist(ctx context.Context, videoID string) (*domain.Artifact, error) {
	args := m.Called(ctx, videoID)
	a, _ := args.Get(0).(*domain.Artifact)
	return a, args.Error(1)
}

func (m *MockIngestionUseCase) GetArtifact(ctx context.Context, videoID, fileName string) (*domain.Artifact, error) {
	args := m.Called(ctx, videoID, fileName)
	a, _ := args.Get(0).(*domain.Artifact)
	return a, args.Error(1)
}

const testSecret = "test_secret"

func setupApp(t *testing.T) (*fiber.App, *MockIngestionUseCase, string) {
	t.Helper()
	logger.SetNewNop()

	uc := new(MockIngestionUseCase)
	verifier := token.NewVerifier(testSecret)
	app := fiber.New()
	RegisterRoutes(app, handlers.NewVideoHandler(uc), verifier)

	bearer, err := verifier.Generate("owner-1", "test", time.Minute)
	require.NoError(t, err)
	return app, uc, "Bearer " + bearer
}

func readBody(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestConnectCheck(t *testing.T) {
	app, _, _ := setupApp(t)
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegisterVideo(t *testing.T) {
	t.Run("成功註冊，owner 取自 token", func(t *testing.T) {
		app, uc, bearer := setupApp(t)
		uc.On("RegisterVideo", mock.Anything, domain.RegisterVideoReq{
			RawFileID:   "f1",
			OwnerID:     "owner-1",
			DisplayName: "cat",
			Description: "a cat",
		}).Return(nil).Once()

		req := httptest.NewRequest("POST", "/videos", strings.NewReader(`{"file_id":"f1","name":"cat","description":"a cat"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(fiber.HeaderAuthorization, bearer)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "f1", body["video_id"])
		uc.AssertExpectations(t)
	})

	t.Run("沒有 token", func(t *testing.T) {
		app, uc, _ := setupApp(t)
		req := httptest.NewRequest("POST", "/videos", strings.NewReader(`{"file_id":"f1","name":"cat"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		uc.AssertNotCalled(t, "RegisterVideo", mock.Anything, mock.Anything)
	})

	t.Run("body 格式錯誤", func(t *testing.T) {
		app, uc, bearer := setupApp(t)
		req := httptest.NewRequest("POST", "/videos", strings.NewReader(`{"file_id":`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set(fiber.HeaderAuthorization, bearer)

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		uc.AssertNotCalled(t, "RegisterVideo", mock.Anything, mock.Anything)
	})

	errCases := []struct {
		name string
		err  error
		want int
	}{
		{"驗證失敗", errprocess.New(errprocess.ErrValidation, "file_id[f1] raw upload not found", nil), fiber.StatusBadRequest},
		{"重複註冊", errprocess.New(errprocess.ErrConflict, "video[f1] already registered", nil), fiber.StatusConflict},
		{"資料庫錯誤", errprocess.New(errprocess.ErrPersistence, "tx failed", nil), fiber.StatusInternalServerError},
	}
	for _, tc := range errCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app, uc, bearer := setupApp(t)
			uc.On("RegisterVideo", mock.Anything, mock.Anything).Return(tc.err).Once()

			req := httptest.NewRequest("POST", "/videos", strings.NewReader(`{"file_id":"f1","name":"cat"}`))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			req.Header.Set(fiber.HeaderAuthorization, bearer)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestIssueUploadSlot(t *testing.T) {
	app, uc, bearer := setupApp(t)
	uc.On("IssueUploadSlot", mock.Anything).
		Return(&domain.UploadSlot{URL: "http://cdn/tmp/u1?sig", RawFileID: "u1"}, nil).Once()

	req := httptest.NewRequest("GET", "/videos/upload-url", nil)
	req.Header.Set(fiber.HeaderAuthorization, bearer)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var slot domain.UploadSlot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&slot))
	assert.Equal(t, "u1", slot.RawFileID)
	uc.AssertExpectations(t)
}

func TestGetVideo(t *testing.T) {
	app, uc, _ := setupApp(t)
	uc.On("GetVideo", mock.Anything, "v1").
		Return(&domain.VideoMetadata{ID: "v1", DisplayName: "cat", PlaylistKey: "v1/playlist"}, nil).Once()
	uc.On("GetVideo", mock.Anything, "v2").
		Return(nil, errprocess.New(errprocess.ErrNotFound, "video[v2] not found", nil)).Once()

	resp, err := app.Test(httptest.NewRequest("GET", "/videos/v1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var meta domain.VideoMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, "v1/playlist", meta.PlaylistKey)

	resp, err = app.Test(httptest.NewRequest("GET", "/videos/v2", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestListVideos(t *testing.T) {
	t.Run("預設分頁", func(t *testing.T) {
		app, uc, _ := setupApp(t)
		uc.On("ListVideos", mock.Anything, domain.ListVideosReq{Page: 1, PageSize: 20}).
			Return(&domain.VideoPage{Videos: []domain.VideoMetadata{}, Page: 1, PageSize: 20}, nil).Once()

		resp, err := app.Test(httptest.NewRequest("GET", "/videos", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		uc.AssertExpectations(t)
	})

	t.Run("指定 owner 與分頁", func(t *testing.T) {
		app, uc, _ := setupApp(t)
		uc.On("ListVideos", mock.Anything, domain.ListVideosReq{OwnerID: "o1", Page: 3, PageSize: 5}).
			Return(&domain.VideoPage{Page: 3, PageSize: 5}, nil).Once()

		resp, err := app.Test(httptest.NewRequest("GET", "/videos?owner=o1&page=3&page_size=5", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		uc.AssertExpectations(t)
	})
}

func TestHlsArtifacts(t *testing.T) {
	app, uc, _ := setupApp(t)
	uc.On("GetMasterPlaylist", mock.Anything, "v1").
		Return(&domain.Artifact{ContentType: "application/vnd.apple.mpegurl", Body: []byte("#EXTM3U\n")}, nil).Once()
	uc.On("GetArtifact", mock.Anything, "v1", "segment_0_000.ts").
		Return(&domain.Artifact{ContentType: "video/MP2T", Body: []byte("ts")}, nil).Once()
	uc.On("GetArtifact", mock.Anything, "v1", "thumbnail.jpg").
		Return(&domain.Artifact{ContentType: "image/jpeg", Body: []byte("jpg")}, nil).Once()
	uc.On("GetArtifact", mock.Anything, "v1", "missing.ts").
		Return(nil, errprocess.New(errprocess.ErrNotFound, "objectName[v1/missing.ts] not found", nil)).Once()

	cases := []struct {
		path     string
		wantCode int
		wantType string
		wantBody string
	}{
		{"/videos/v1/hls/playlist", fiber.StatusOK, "application/vnd.apple.mpegurl", "#EXTM3U\n"},
		{"/videos/v1/hls/segment_0_000.ts", fiber.StatusOK, "video/MP2T", "ts"},
		{"/videos/v1/thumbnail", fiber.StatusOK, "image/jpeg", "jpg"},
		{"/videos/v1/hls/missing.ts", fiber.StatusNotFound, "", ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tc.path, nil))
			require.NoError(t, err)
			assert.Equal(t, tc.wantCode, resp.StatusCode)
			if tc.wantType != "" {
				assert.Equal(t, tc.wantType, resp.Header.Get(fiber.HeaderContentType))
				assert.Equal(t, tc.wantBody, readBody(t, resp.Body))
			}
		})
	}
	uc.AssertExpectations(t)
}
