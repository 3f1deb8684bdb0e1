package handlers

import (
	"video_processing_service/internal/streaming/app"
	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/middlewares"
	"video_processing_service/pkg/storagekey"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
)

// VideoHandler 影片上傳與播放的 HTTP 入口
type VideoHandler struct {
	usecase app.IngestionUseCase
}

// NewVideoHandler create video handler
func NewVideoHandler(usecase app.IngestionUseCase) *VideoHandler {
	return &VideoHandler{usecase: usecase}
}

// IssueUploadSlot godoc
// @Summary Presigned URL for a direct raw upload
// @Tags Video
// @Produce json
// @Success 200 {object} domain.UploadSlot
// @Failure 401 {object} string "Unauthorized"
// @Router /videos/upload-url [get]
func (h *VideoHandler) IssueUploadSlot(c *fiber.Ctx) error {
	slot, err := h.usecase.IssueUploadSlot(c.UserContext())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(slot)
}

// RegisterVideo godoc
// @Summary Register an uploaded file for processing
// @Tags Video
// @Accept json
// @Produce json
// @Param body body domain.RegisterVideoReq true "uploaded file id and metadata"
// @Success 201 {object} string "video_id"
// @Failure 400 {object} string "Bad Request"
// @Failure 409 {object} string "Conflict"
// @Router /videos [post]
func (h *VideoHandler) RegisterVideo(c *fiber.Ctx) error {
	var req domain.RegisterVideoReq
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, errprocess.New(errprocess.ErrValidation, "request body invalid", err))
	}
	req.OwnerID = middlewares.OwnerID(c)

	if err := h.usecase.RegisterVideo(c.UserContext(), req); err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"msg":      "registered, waiting for processing",
		"video_id": req.RawFileID,
	})
}

// GetVideo godoc
// @Summary Processed video metadata
// @Tags Video
// @Param id path string true "video id"
// @Success 200 {object} domain.VideoMetadata
// @Failure 404 {object} string "Not Found"
// @Router /videos/{id} [get]
func (h *VideoHandler) GetVideo(c *fiber.Ctx) error {
	meta, err := h.usecase.GetVideo(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(meta)
}

// ListVideos godoc
// @Summary Page through processed videos
// @Tags Video
// @Param owner query string false "owner id"
// @Param page query int false "page, from 1"
// @Param page_size query int false "page size, up to 100"
// @Success 200 {object} domain.VideoPage
// @Router /videos [get]
func (h *VideoHandler) ListVideos(c *fiber.Ctx) error {
	page, err := h.usecase.ListVideos(c.UserContext(), domain.ListVideosReq{
		OwnerID:  c.Query("owner"),
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("page_size", defaultPageSize),
	})
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(page)
}

// GetMasterPlaylist godoc
// @Summary Adaptive master playlist
// @Tags Video
// @Produce application/vnd.apple.mpegurl
// @Param id path string true "video id"
// @Router /videos/{id}/hls/playlist [get]
func (h *VideoHandler) GetMasterPlaylist(c *fiber.Ctx) error {
	artifact, err := h.usecase.GetMasterPlaylist(c.UserContext(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return sendArtifact(c, artifact)
}

// GetHlsFile godoc
// @Summary Variant playlist or segment
// @Tags Video
// @Param id path string true "video id"
// @Param file path string true "file name"
// @Router /videos/{id}/hls/{file} [get]
func (h *VideoHandler) GetHlsFile(c *fiber.Ctx) error {
	artifact, err := h.usecase.GetArtifact(c.UserContext(), c.Params("id"), c.Params("file"))
	if err != nil {
		return errorResponse(c, err)
	}
	return sendArtifact(c, artifact)
}

// GetThumbnail godoc
// @Summary Poster frame
// @Tags Video
// @Produce image/jpeg
// @Param id path string true "video id"
// @Router /videos/{id}/thumbnail [get]
func (h *VideoHandler) GetThumbnail(c *fiber.Ctx) error {
	artifact, err := h.usecase.GetArtifact(c.UserContext(), c.Params("id"), storagekey.ThumbnailFileName)
	if err != nil {
		return errorResponse(c, err)
	}
	return sendArtifact(c, artifact)
}

func sendArtifact(c *fiber.Ctx, artifact *domain.Artifact) error {
	c.Set(fiber.HeaderContentType, artifact.ContentType)
	return c.Send(artifact.Body)
}
