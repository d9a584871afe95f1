package media

import "strings"

// Relocated is the durable location of a fetched media blob.
type Relocated struct {
	URL  string
	Mime string
}

// extensionFromMime maps declared MIME types to file extensions. Unknown
// types fall back to a generic extension.
func extensionFromMime(mime string) string {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/3gpp":
		return ".3gp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
