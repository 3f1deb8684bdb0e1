package media

import (
	"context"
	"strconv"
)

// ThumbnailExtractor writes a single frame of a video as an image
type ThumbnailExtractor struct {
	runner Runner
	ffmpeg string
}

// NewThumbnailExtractor create ThumbnailExtractor
func NewThumbnailExtractor(runner Runner, ffmpegPath string) *ThumbnailExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &ThumbnailExtractor{runner: runner, ffmpeg: ffmpegPath}
}

// Extract 擷取 videoPath 在 at 秒的畫面存成 outputPath
func (t *ThumbnailExtractor) Extract(ctx context.Context, videoPath, outputPath string, at float64) error {
	if at < 0 {
		at = 0
	}
	_, err := t.runner.Run(ctx, "", t.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	)
	return err
}
