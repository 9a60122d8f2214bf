package classify

import (
	"path"
	"strings"

	"github.com/joseph-ayodele/exams-tracker/constants"
)

// FileRef is the metadata needed to classify a file. MimeType may be empty.
type FileRef struct {
	Name     string
	MimeType string
}

// Result flags the document family of a file.
type Result struct {
	IsPDF       bool `json:"isPdf"`
	IsDOCX      bool `json:"isDocx"`
	IsImage     bool `json:"isImage"`
	IsSupported bool `json:"isSupported"`
}

// Kind returns the family, preferring PDF, then DOCX, then image when several flags are set.
func (r Result) Kind() (constants.FileKind, bool) {
	switch {
	case r.IsPDF:
		return constants.PDF, true
	case r.IsDOCX:
		return constants.DOCX, true
	case r.IsImage:
		return constants.IMAGE, true
	default:
		return "", false
	}
}

// Classify combines the declared MIME type and the name's extension. It never
// panics; unusable input yields an all-false result.
func Classify(ref FileRef) Result {
	mime := strings.ToLower(strings.TrimSpace(ref.MimeType))
	ext := extension(ref.Name)

	var r Result
	r.IsPDF = strings.Contains(mime, constants.PDFMimeHint) || inSet(constants.PDFExtensions, ext)
	r.IsDOCX = strings.Contains(mime, constants.DOCXMimeHint) || inSet(constants.DOCXExtensions, ext)
	r.IsImage = strings.Contains(mime, constants.ImageMimeHint) || inSet(constants.ImageExtensions, ext)
	r.IsSupported = r.IsPDF || r.IsDOCX || r.IsImage
	return r
}

func extension(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	// Names may come from URLs or storage paths; only the last segment counts.
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return constants.NormalizeExt(path.Ext(base))
}

func inSet(set map[string]struct{}, ext string) bool {
	if ext == "" {
		return false
	}
	_, ok := set[ext]
	return ok
}
