// Package storagekey is the single naming convention for objects in the
// video bucket. The worker writes with these keys and the API reads with them.
package storagekey

import (
	"path"
	"strings"
)

const (
	// TempPrefix partition for raw uploads awaiting processing
	TempPrefix = "tmp/"
	// ThumbnailFileName name of the poster frame inside a video's namespace
	ThumbnailFileName = "thumbnail.jpg"

	masterSuffix = "playlist"
)

// Temp key of a raw upload
func Temp(rawFileID string) string {
	return TempPrefix + rawFileID
}

// MasterPlaylist key of the adaptive master playlist
func MasterPlaylist(videoID string) string {
	return videoID + "/" + masterSuffix
}

// SubFile key of a variant playlist, segment or thumbnail
func SubFile(videoID, fileName string) string {
	return videoID + "/" + fileName
}

// Thumbnail key of the poster frame
func Thumbnail(videoID string) string {
	return SubFile(videoID, ThumbnailFileName)
}

// ValidFileName reports whether name can be used as a sub-file name.
// Rejects anything that could escape the video's namespace.
func ValidFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && path.Clean(name) == name
}

// ContentType media type served for a file name
func ContentType(fileName string) string {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// MasterContentType media type of the master playlist, whose key has no extension
const MasterContentType = "application/vnd.apple.mpegurl"
