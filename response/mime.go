package response

import "strings"

// mimeTypes is a small, deliberately static extension table rather than a
// dependency on the OS mime database (net/http's DetectContentType and the
// system mime.types file both vary by platform; this keeps responses
// reproducible across hosts).
var mimeTypes = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"json": "application/json",
	"txt":  "text/plain",
	"xml":  "application/xml",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",
	"webp": "image/webp",
	"pdf":  "application/pdf",
	"woff": "font/woff",
	"woff2": "font/woff2",
	"ttf":  "font/ttf",
	"wasm": "application/wasm",
	"zip":  "application/zip",
	"mp4":  "video/mp4",
	"mp3":  "audio/mpeg",
}

// getMime returns the content type for ext (no leading dot), falling back to
// a generic octet stream for unrecognized extensions.
func getMime(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}
