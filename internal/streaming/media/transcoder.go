package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"video_processing_service/internal/streaming/domain"
	errprocess "video_processing_service/pkg/err"
	"video_processing_service/pkg/logger"
	"video_processing_service/pkg/storagekey"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Transcoder turns one input file into an HLS ladder plus a thumbnail
type Transcoder struct {
	cfg        domain.ConversionConfig
	runner     Runner
	prober     *Prober
	thumbnails *ThumbnailExtractor
}

// NewTranscoder create Transcoder
func NewTranscoder(cfg domain.ConversionConfig, runner Runner) *Transcoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	return &Transcoder{
		cfg:        cfg,
		runner:     runner,
		prober:     NewProber(runner, cfg.FFprobePath),
		thumbnails: NewThumbnailExtractor(runner, cfg.FFmpegPath),
	}
}

// Convert 將 inputPath 轉成 HLS，產物寫入 outputDir
func (t *Transcoder) Convert(ctx context.Context, inputPath, outputDir string) (*domain.ConversionResult, error) {
	input, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("input[%s] resolve path : %w", inputPath, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("outputDir[%s] create : %w", outputDir, err)
	}

	hasAudio, err := t.prober.HasAudio(ctx, input)
	if err != nil {
		return nil, err
	}

	args := BuildHLSArgs(HLSOptions{
		InputPath:       input,
		Resolutions:     t.cfg.Resolutions,
		SegmentDuration: t.cfg.SegmentDuration,
		HasAudio:        hasAudio,
		Letterbox:       t.cfg.AddLetterbox,
	})
	logger.Log.Debug("running ffmpeg", zap.Strings("args", args))

	if _, err := t.runner.Run(ctx, outputDir, t.cfg.FFmpegPath, args...); err != nil {
		return nil, err
	}

	result, err := collectOutputs(outputDir)
	if err != nil {
		return nil, err
	}

	segments := result.Segments()
	if len(segments) == 0 {
		return nil, errprocess.New(errprocess.ErrToolExecution,
			fmt.Sprintf("outputDir[%s] ffmpeg produced no segments", outputDir), nil)
	}

	first := segments[0]
	duration, err := t.prober.Duration(ctx, first)
	if err != nil {
		return nil, err
	}

	thumbnail := filepath.Join(outputDir, storagekey.ThumbnailFileName)
	if err := t.thumbnails.Extract(ctx, first, thumbnail, duration/2); err != nil {
		return nil, err
	}
	result.ThumbnailPath = thumbnail

	logSegmentSizes(segments)
	return result, nil
}

// collectOutputs 列出 outputDir 中的主清單、子清單與分段
func collectOutputs(outputDir string) (*domain.ConversionResult, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("outputDir[%s] read : %w", outputDir, err)
	}

	result := &domain.ConversionResult{}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		full := filepath.Join(outputDir, name)
		switch {
		case name == MasterPlaylistName:
			result.MasterPlaylistPath = full
		case strings.HasSuffix(name, ".m3u8"), strings.HasSuffix(name, ".ts"):
			result.SubFilePaths = append(result.SubFilePaths, full)
		}
	}

	if result.MasterPlaylistPath == "" {
		return nil, errprocess.New(errprocess.ErrToolExecution,
			fmt.Sprintf("outputDir[%s] ffmpeg produced no %s", outputDir, MasterPlaylistName), nil)
	}
	return result, nil
}

// logSegmentSizes 每個解析度的分段總大小
func logSegmentSizes(segments []string) {
	totals := map[string]uint64{}
	counts := map[string]int{}
	for _, s := range segments {
		info, err := os.Stat(s)
		if err != nil {
			continue
		}
		v := variantOf(filepath.Base(s))
		totals[v] += uint64(info.Size())
		counts[v]++
	}
	for v, size := range totals {
		logger.Log.Info("hls variant written",
			zap.String("variant", v),
			zap.Int("segments", counts[v]),
			zap.String("size", humanize.Bytes(size)),
		)
	}
}

// variantOf segment_1_004.ts -> "1", segment_004.ts -> "0"
func variantOf(name string) string {
	parts := strings.Split(strings.TrimSuffix(name, filepath.Ext(name)), "_")
	if len(parts) == 3 {
		return parts[1]
	}
	return "0"
}
