package router

import (
	"video_processing_service/internal/streaming/api/handlers"
	"video_processing_service/pkg/middlewares"
	"video_processing_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 註冊影片相關的路由，寫入類需要 token
func RegisterRoutes(app *fiber.App, videoHandler *handlers.VideoHandler, verifier *token.Verifier) {
	app.Get("/", handlers.ConnectCheck)
	app.Post("/debug", handlers.DebugLogFlag)

	videos := app.Group("/videos")
	auth := middlewares.JWTMiddleware(verifier)
	videos.Get("/upload-url", auth, videoHandler.IssueUploadSlot)
	videos.Post("/", auth, videoHandler.RegisterVideo)
	videos.Get("/", videoHandler.ListVideos)
	videos.Get("/:id", videoHandler.GetVideo)
	videos.Get("/:id/hls/playlist", videoHandler.GetMasterPlaylist)
	videos.Get("/:id/hls/:file", videoHandler.GetHlsFile)
	videos.Get("/:id/thumbnail", videoHandler.GetThumbnail)
}
