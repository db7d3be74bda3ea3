package utils

import (
	"path/filepath"
	"strings"
)

// binaryExtensions is the fixed set of extensions treated as binary content
var binaryExtensions = map[string]struct{}{}

func init() {
	for _, ext := range []string{
		// images
		"bmp", "gif", "ico", "icns", "jpeg", "jpg", "png", "psd", "tga", "tif", "tiff", "webp", "heic", "raw", "cr2", "nef",
		// archives
		"7z", "bz2", "gz", "tgz", "tar", "xz", "zip", "rar", "jar", "war", "apk", "dmg", "iso", "lz", "lzma", "zst", "cab", "deb", "rpm",
		// audio and video
		"aac", "aiff", "flac", "m4a", "mid", "mp3", "ogg", "wav", "wma", "avi", "flv", "m4v", "mkv", "mov", "mp4", "mpeg", "mpg", "webm", "wmv",
		// fonts
		"eot", "otf", "ttf", "woff", "woff2",
		// executables and objects
		"a", "bin", "class", "dll", "dylib", "exe", "o", "obj", "pyc", "pyo", "so", "wasm",
		// documents
		"doc", "docx", "odt", "pdf", "ppt", "pptx", "xls", "xlsx", "epub",
		// databases
		"db", "sqlite", "sqlite3",
	} {
		binaryExtensions[ext] = struct{}{}
	}
}

// IsBinaryPath reports whether the path's extension belongs to a known binary format
func IsBinaryPath(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	_, ok := binaryExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}
