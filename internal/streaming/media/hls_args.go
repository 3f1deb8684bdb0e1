package media

import (
	"fmt"
	"strconv"
	"strings"

	"video_processing_service/internal/streaming/domain"
)

const (
	// MasterPlaylistName 主清單檔名
	MasterPlaylistName = "master.m3u8"

	variantPlaylistPattern = "stream_%v.m3u8"
	variantSegmentPattern  = "segment_%v_%03d.ts"
	singleSegmentPattern   = "segment_%03d.ts"
)

// HLSOptions input of BuildHLSArgs
type HLSOptions struct {
	InputPath       string
	Resolutions     []domain.ResolutionSpec
	SegmentDuration int
	HasAudio        bool
	Letterbox       bool
}

// BuildHLSArgs ffmpeg arguments producing a VOD HLS ladder in the working directory.
// An empty ladder copies the video stream into a single rendition.
func BuildHLSArgs(o HLSOptions) []string {
	seg := o.SegmentDuration
	if seg <= 0 {
		seg = 10
	}
	if len(o.Resolutions) == 0 {
		return singleRenditionArgs(o, seg)
	}
	return ladderArgs(o, seg)
}

func singleRenditionArgs(o HLSOptions, seg int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", o.InputPath, "-map", "0:v:0"}
	if o.HasAudio {
		args = append(args, "-map", "0:a:0")
	}
	args = append(args, "-c:v", "copy")
	if o.HasAudio {
		args = append(args, "-c:a", "aac")
	}
	return append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(seg),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", singleSegmentPattern,
		MasterPlaylistName,
	)
}

func ladderArgs(o HLSOptions, seg int) []string {
	n := len(o.Resolutions)
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", o.InputPath,
		"-filter_complex", FilterGraph(o.Resolutions, o.Letterbox)}

	streamMap := make([]string, 0, n)
	for i, r := range o.Resolutions {
		idx := strconv.Itoa(i)
		args = append(args,
			"-map", "[v"+idx+"out]",
			"-c:v:"+idx, "libx264",
			"-b:v:"+idx, r.Bitrate,
		)
		if o.HasAudio {
			args = append(args, "-map", "0:a:0")
			streamMap = append(streamMap, fmt.Sprintf("v:%d,a:%d", i, i))
		} else {
			streamMap = append(streamMap, fmt.Sprintf("v:%d", i))
		}
	}
	if o.HasAudio {
		args = append(args, "-c:a", "aac")
	}

	return append(args,
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seg),
		"-f", "hls",
		"-hls_time", strconv.Itoa(seg),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", variantSegmentPattern,
		"-master_pl_name", MasterPlaylistName,
		"-var_stream_map", strings.Join(streamMap, " "),
		variantPlaylistPattern,
	)
}

// FilterGraph split the input video once per rung and scale each branch.
// With letterbox every branch keeps its aspect ratio and is padded to exactly W×H.
func FilterGraph(resolutions []domain.ResolutionSpec, letterbox bool) string {
	n := len(resolutions)
	var b strings.Builder

	fmt.Fprintf(&b, "[0:v]split=%d", n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[v%d]", i)
	}

	for i, r := range resolutions {
		if letterbox {
			// 比輸出寬的來源以寬為準，其餘以高為準，-2 保持偶數
			ratio := fmt.Sprintf("gt(iw/ih,%d/%d)", r.Width, r.Height)
			fmt.Fprintf(&b,
				";[v%d]scale='if(%s,%d,-2)':'if(%s,-2,%d)',pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[v%dout]",
				i, ratio, r.Width, ratio, r.Height, r.Width, r.Height, i)
		} else {
			fmt.Fprintf(&b, ";[v%d]scale=%d:%d,setsar=1[v%dout]", i, r.Width, r.Height, i)
		}
	}
	return b.String()
}
