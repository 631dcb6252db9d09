package extract

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Media types handled by the built-in readers.
const (
	MediaText     = "text/plain"
	MediaMarkdown = "text/markdown"
	MediaCSV      = "text/csv"
	MediaHTML     = "text/html"
	MediaJSON     = "application/json"
	MediaPDF      = "application/pdf"
	MediaDoc      = "application/msword"
	MediaDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaPpt      = "application/vnd.ms-powerpoint"
	MediaPptx     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MediaXls      = "application/vnd.ms-excel"
	MediaXlsx     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaOctet    = "application/octet-stream"
)

// SupportedTypes maps accepted file extensions to their media types.
var SupportedTypes = map[string]string{
	".txt":  MediaText,
	".md":   MediaMarkdown,
	".csv":  MediaCSV,
	".json": MediaJSON,
	".pdf":  MediaPDF,
	".doc":  MediaDoc,
	".docx": MediaDocx,
	".ppt":  MediaPpt,
	".pptx": MediaPptx,
	".xls":  MediaXls,
	".xlsx": MediaXlsx,
	".html": MediaHTML,
	".htm":  MediaHTML,
}

// extraTypes are recognized but not advertised as supported uploads.
var extraTypes = map[string]string{
	".markdown": MediaMarkdown,
	".log":      MediaText,
}

// Supported reports whether the extension of path is an accepted upload type.
func Supported(path string) bool {
	_, ok := SupportedTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// MediaTypeForPath returns the media type for the extension of path, or
// MediaOctet when the extension is unknown.
func MediaTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := SupportedTypes[ext]; ok {
		return mt
	}
	if mt, ok := extraTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return normalize(mt)
	}
	return MediaOctet
}

// ResolveMediaType picks the media type used to read path. A specific declared
// type wins; otherwise the extension table is consulted, then the first bytes
// of the file are sniffed.
func ResolveMediaType(path, declared string) string {
	if mt := normalize(declared); mt != "" && mt != MediaOctet {
		return mt
	}
	if mt := MediaTypeForPath(path); mt != MediaOctet {
		return mt
	}
	return sniff(path)
}

func normalize(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(mediaType)
	}
	switch parsed {
	case "text/x-markdown":
		return MediaMarkdown
	case "application/xhtml+xml":
		return MediaHTML
	}
	return parsed
}

func sniff(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return MediaOctet
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return MediaOctet
	}
	if n == 0 {
		return MediaText
	}
	return normalize(http.DetectContentType(buf[:n]))
}
