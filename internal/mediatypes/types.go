package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType represents the broad class of a media file.
type FileType string

const (
	// FileTypeImage represents a still image file.
	FileTypeImage FileType = "image"
	// FileTypeVideo represents a video file.
	FileTypeVideo FileType = "video"
	// FileTypeAnimation represents an animated image (gif/webp).
	FileTypeAnimation FileType = "animation"
	// FileTypeOther represents an unknown or unsupported file type.
	FileTypeOther FileType = "other"
)

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
	".avif": true,
}

// AnimationExtensions maps file extensions that decode as animated images.
var AnimationExtensions = map[string]bool{
	".gif": true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
	".ts":   true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".avif": "image/avif",

	// Videos
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",
}

// GetFileType returns the FileType for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
// Returns FileTypeOther if the extension is not recognized.
func GetFileType(ext string) FileType {
	if ImageExtensions[ext] {
		return FileTypeImage
	}
	if AnimationExtensions[ext] {
		return FileTypeAnimation
	}
	if VideoExtensions[ext] {
		return FileTypeVideo
	}
	return FileTypeOther
}

// FromPath returns the FileType for a file path.
func FromPath(path string) FileType {
	return GetFileType(strings.ToLower(filepath.Ext(path)))
}

// GetMimeType returns the MIME type for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".jpg").
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsMediaFile returns true if the extension represents a supported media file.
func IsMediaFile(ext string) bool {
	return GetFileType(ext) != FileTypeOther
}
