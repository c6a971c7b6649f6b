package downloader

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"likegrab/pkg/storage"
)

const defaultExtension = "jpg"

var contentTypeExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"video/mp4":  "mp4",
}

// extensionFromURL infers a file extension from the format query parameter
// or the path suffix. The second result is false when the URL gives no hint.
func extensionFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return defaultExtension, false
	}
	if ext, ok := normalizeExtension(u.Query().Get("format")); ok {
		return ext, true
	}
	p := u.Path
	// pbs.twimg.com size suffixes: /media/X.jpg:large
	if i := strings.LastIndex(p, ":"); i > strings.LastIndex(p, "/") {
		p = p[:i]
	}
	if ext, ok := normalizeExtension(strings.TrimPrefix(path.Ext(p), ".")); ok {
		return ext, true
	}
	return defaultExtension, false
}

// ExtensionFor picks the extension for a downloaded item: the URL wins, then
// the response content type, then jpg.
func ExtensionFor(rawURL, contentType string) string {
	if ext, ok := extensionFromURL(rawURL); ok {
		return ext
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := contentTypeExtensions[mt]; ok {
			return ext
		}
	}
	return defaultExtension
}

func normalizeExtension(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	if ext == "jpeg" {
		ext = "jpg"
	}
	if ext == "" || !storage.IsAllowedExtension(ext) {
		return "", false
	}
	return ext, true
}

// isMediaType reports whether a (sniffed) content type is image or video
func isMediaType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/")
}
