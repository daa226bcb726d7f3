package files

import (
	"net/http"
	"strings"

	"github.com/parleyhq/parley/domain"
)

// allowedMIME is the upload allow-list. Executables and scripts stay out.
var allowedMIME = map[string]bool{
	"image/jpeg":    true,
	"image/png":     true,
	"image/gif":     true,
	"image/webp":    true,
	"audio/mpeg":    true,
	"audio/ogg":     true,
	"audio/wav":     true,
	"audio/webm":    true,
	"audio/mp4":     true,
	"audio/aac":     true,
	"video/mp4":     true,
	"video/webm":    true,
	"video/quicktime": true,
	"application/pdf": true,
	"application/zip": true,
	"application/msword": true,
	"application/vnd.ms-excel":        true,
	"application/vnd.ms-powerpoint":   true,
	"application/octet-stream":        true,
	"text/plain":                      true,
	"text/csv":                        true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
}

// SniffMIME detects the content type from the leading bytes, ignoring any
// client-declared type.
func SniffMIME(data []byte) string {
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.TrimSpace(mimeType)
}

// Allowed reports whether the MIME type may be uploaded.
func Allowed(mimeType string) bool {
	return allowedMIME[mimeType]
}

// MessageType classifies an upload into a message type by its MIME type.
func MessageType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.MessageTypeImage
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.MessageTypeVoice
	default:
		return domain.MessageTypeFile
	}
}

// SafeName strips path components and characters that are awkward in object
// keys and URLs.
func SafeName(name string) string {
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
