package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
	"github.com/joseph-ayodele/exams-tracker/internal/extraction"
	"github.com/joseph-ayodele/exams-tracker/internal/save"
)

type Severity string

const (
	Success Severity = "success"
	Info    Severity = "info"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// Notification is the user-facing translation of a pipeline outcome.
type Notification struct {
	Message  string           `json:"message"`
	Severity Severity         `json:"severity"`
	Detail   string           `json:"detail,omitempty"`
	Kind     common.ErrorKind `json:"kind,omitempty"`
}

type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// FromOutcome maps an extraction outcome for fileName onto a notification.
func FromOutcome(fileName string, o extraction.Outcome) Notification {
	switch o.Kind {
	case extraction.KindSuccess:
		count := 0
		for _, bucket := range o.Data {
			count += len(bucket)
		}
		return Notification{
			Message:  fmt.Sprintf("%s processado com sucesso", fileName),
			Severity: Success,
			Detail:   fmt.Sprintf("%d resultado(s) extraído(s)", count),
		}
	case extraction.KindWarning:
		return Notification{Message: o.Message, Severity: Warning, Detail: fileName}
	case extraction.KindImageQuality:
		return Notification{Message: o.Message, Severity: Warning, Detail: o.Suggestion, Kind: common.KindQuality}
	default:
		return Notification{
			Message:  fmt.Sprintf("Erro ao processar %s", fileName),
			Severity: Error,
			Detail:   o.Message,
			Kind:     o.ErrorKind,
		}
	}
}

// FromSave maps the result of a save call. A nil result with an error is a blocking failure.
func FromSave(res *save.Result, err error) Notification {
	if err != nil {
		return Notification{
			Message:  "Erro ao salvar exame",
			Severity: Error,
			Detail:   err.Error(),
			Kind:     common.KindOf(err),
		}
	}
	if n := len(res.FailedUploads); n > 0 {
		return Notification{
			Message:  "Exame salvo com pendências",
			Severity: Warning,
			Detail:   fmt.Sprintf("%d anexo(s) não puderam ser enviados", n),
			Kind:     common.KindPartial,
		}
	}
	if res.NoteErr != nil {
		return Notification{
			Message:  "Exame salvo",
			Severity: Info,
			Detail:   "a nota clínica não pôde ser atualizada",
		}
	}
	return Notification{Message: "Exame salvo com sucesso", Severity: Success}
}

// SlogSink writes notifications to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Severity {
	case Warning:
		level = slog.LevelWarn
	case Error:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "notify", "severity", n.Severity, "message", n.Message, "detail", n.Detail, "kind", n.Kind)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}
