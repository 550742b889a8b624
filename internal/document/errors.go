package document

import (
	"errors"
	"fmt"
)

// Kind represents the category of a placement/stamping failure
type Kind int

const (
	KindUnknown Kind = iota
	KindDocumentLoad
	KindUnsupportedType
	KindInvalidPlacement
	KindImageDecode
	KindFontDegraded
)

// String returns a string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindDocumentLoad:
		return "DOCUMENT_LOAD"
	case KindUnsupportedType:
		return "UNSUPPORTED_DOCUMENT_TYPE"
	case KindInvalidPlacement:
		return "INVALID_PLACEMENT"
	case KindImageDecode:
		return "IMAGE_DECODE"
	case KindFontDegraded:
		return "FONT_RESOLUTION_DEGRADED"
	default:
		return "UNKNOWN"
	}
}

// Fatal reports whether an error of this kind aborts the operation.
// Invalid placements and font degradation are absorbed by the stamping engine.
func (k Kind) Fatal() bool {
	switch k {
	case KindInvalidPlacement, KindFontDegraded:
		return false
	default:
		return true
	}
}

// Error is the typed failure surfaced to callers of the preview and stamping pipelines
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"operation,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind so errors.Is(err, ErrDocumentLoad) works on any DocumentLoad error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is
var (
	ErrDocumentLoad            = &Error{Kind: KindDocumentLoad, Message: "document could not be loaded"}
	ErrUnsupportedDocumentType = &Error{Kind: KindUnsupportedType, Message: "unsupported document type"}
	ErrInvalidPlacement        = &Error{Kind: KindInvalidPlacement, Message: "invalid placement"}
	ErrImageDecode             = &Error{Kind: KindImageDecode, Message: "signature image could not be decoded"}
	ErrFontResolutionDegraded  = &Error{Kind: KindFontDegraded, Message: "font resolution degraded"}
)

// NewDocumentLoadError reports source bytes that do not parse as the declared type
func NewDocumentLoadError(op string, err error) *Error {
	return &Error{Kind: KindDocumentLoad, Op: op, Message: "document could not be loaded", Err: err}
}

// NewUnsupportedTypeError reports a declared type that is neither pdf nor a spreadsheet
func NewUnsupportedTypeError(declared string) *Error {
	return &Error{
		Kind:    KindUnsupportedType,
		Op:      "parse_type",
		Message: fmt.Sprintf("unsupported document type %q (must be one of: pdf, xlsx, xls)", declared),
	}
}

// NewInvalidPlacementError reports a placement that cannot be applied to the bound document
func NewInvalidPlacementError(op, message string) *Error {
	return &Error{Kind: KindInvalidPlacement, Op: op, Message: message}
}

// NewImageDecodeError reports malformed signature image bytes
func NewImageDecodeError(op string, err error) *Error {
	return &Error{Kind: KindImageDecode, Op: op, Message: "signature image could not be decoded", Err: err}
}

// NewFontDegradedError records a non-fatal step in the font fallback chain
func NewFontDegradedError(message string, err error) *Error {
	return &Error{Kind: KindFontDegraded, Op: "resolve_font", Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the operation. Untyped errors are fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind.Fatal()
	}
	return true
}
