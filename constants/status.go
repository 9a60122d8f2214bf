package constants

// ExtractType is sent with every extraction request.
const ExtractType = "exam"

// Fields of the linked clinical note.
const (
	NoteTypeExam     = "Exame"
	NoteCategoryExam = "Exames"
)

// NoteResultsMarker is appended to a note when the exam carries structured results.
const NoteResultsMarker = "Este exame possui resultados estruturados extraídos automaticamente."

// ImageQualityFailedStatus is the status value the extraction service uses for unreadable images.
const ImageQualityFailedStatus = "image_processing_failed"

// Progress messages reported while an extraction is outstanding.
const (
	ProgressImageOCR   = "Processando imagem com OCR..."
	ProgressDocumentAI = "Processando documento com IA..."
)
