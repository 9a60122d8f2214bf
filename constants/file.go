package constants

import "strings"

// FileKind is the document family an attachment belongs to.
type FileKind string

const (
	PDF   FileKind = "PDF"
	DOCX  FileKind = "DOCX"
	IMAGE FileKind = "IMAGE"
)

// PDFExtensions, DOCXExtensions and ImageExtensions are lowercase, without '.'.
var PDFExtensions = map[string]struct{}{
	"pdf": {},
}

var DOCXExtensions = map[string]struct{}{
	"docx": {},
}

var ImageExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"bmp":  {},
	"webp": {},
}

// MIME substrings matched against the declared type (lowercased).
const (
	PDFMimeHint   = "pdf"
	DOCXMimeHint  = "wordprocessingml"
	ImageMimeHint = "image/"
)

// DOCXMimeType is the full declared type for .docx files.
const DOCXMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// AllowedExtensions is the union of every supported extension.
var AllowedExtensions = func() map[string]struct{} {
	out := map[string]struct{}{}
	for _, set := range []map[string]struct{}{PDFExtensions, DOCXExtensions, ImageExtensions} {
		for ext := range set {
			out[ext] = struct{}{}
		}
	}
	return out
}()

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MimeTypeForExt guesses a content type for uploads that did not declare one.
func MimeTypeForExt(ext string) string {
	switch e := NormalizeExt(ext); {
	case e == "pdf":
		return "application/pdf"
	case e == "docx":
		return DOCXMimeType
	case e == "jpg" || e == "jpeg":
		return "image/jpeg"
	case e == "png" || e == "gif" || e == "bmp" || e == "webp":
		return "image/" + e
	default:
		return "application/octet-stream"
	}
}
