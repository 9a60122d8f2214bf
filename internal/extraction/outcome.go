package extraction

import (
	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

// Kind discriminates an Outcome.
type Kind string

const (
	KindSuccess      Kind = "success"
	KindWarning      Kind = "warning"
	KindImageQuality Kind = "image_quality_failure"
	KindFailure      Kind = "failure"
)

// Outcome is the typed result of one extraction attempt. Only the fields of
// its Kind are set.
type Outcome struct {
	Kind       Kind                         `json:"kind"`
	Data       map[string]map[string]string `json:"data,omitempty"`
	Message    string                       `json:"message,omitempty"`
	Suggestion string                       `json:"suggestion,omitempty"`
	// ErrorKind places a failure in the error taxonomy (validation, transient, internal).
	ErrorKind common.ErrorKind `json:"errorKind,omitempty"`
}

func Success(data map[string]map[string]string) Outcome {
	if data == nil {
		data = map[string]map[string]string{}
	}
	return Outcome{Kind: KindSuccess, Data: data}
}

func Warning(message string) Outcome {
	return Outcome{Kind: KindWarning, Message: message}
}

func ImageQualityFailure(message, suggestion string) Outcome {
	return Outcome{Kind: KindImageQuality, Message: message, Suggestion: suggestion, ErrorKind: common.KindQuality}
}

func Failure(message string, kind common.ErrorKind) Outcome {
	if kind == "" {
		kind = common.KindInternal
	}
	return Outcome{Kind: KindFailure, Message: message, ErrorKind: kind}
}

func (o Outcome) IsSuccess() bool {
	return o.Kind == KindSuccess
}
