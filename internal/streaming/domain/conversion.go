package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// ResolutionSpec one rung of the output ladder, Bitrate is passed to the encoder verbatim
type ResolutionSpec struct {
	Width   int
	Height  int
	Bitrate string
}

// ConversionConfig media transcoder setting
type ConversionConfig struct {
	Resolutions     []ResolutionSpec
	SegmentDuration int
	AddLetterbox    bool
	FFmpegPath      string
	FFprobePath     string
	ToolTimeout     time.Duration
}

// ConversionResult 轉檔產物在本機 scratch 目錄的路徑
type ConversionResult struct {
	MasterPlaylistPath string
	ThumbnailPath      string
	// SubFilePaths variant playlists and segments, master excluded
	SubFilePaths []string
}

// Segments media segment paths
func (r *ConversionResult) Segments() []string {
	return r.filter(".ts")
}

// Playlists variant playlist paths
func (r *ConversionResult) Playlists() []string {
	return r.filter(".m3u8")
}

func (r *ConversionResult) filter(ext string) []string {
	var out []string
	for _, p := range r.SubFilePaths {
		if strings.EqualFold(filepath.Ext(p), ext) {
			out = append(out, p)
		}
	}
	return out
}
