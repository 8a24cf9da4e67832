package crawler

import (
	"mime"
	"path"
	"strings"
)

// ArchivePath builds the object path for an archived body:
// prefix/session/kk/key.ext, where kk is the first two characters of key.
func ArchivePath(prefix, sessionID, key, contentType string) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(prefix, sessionID, shard, key+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch {
	case media == "text/html" || media == "application/xhtml+xml":
		return ".html"
	case media == "application/json":
		return ".json"
	case strings.HasSuffix(media, "/xml") || strings.HasSuffix(media, "+xml"):
		return ".xml"
	case media == "text/plain":
		return ".txt"
	case media == "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
