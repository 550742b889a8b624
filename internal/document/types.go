package document

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DocumentType is the declared type tag of a source document
type DocumentType string

const (
	TypePDF  DocumentType = "pdf"
	TypeXLSX DocumentType = "xlsx"
	TypeXLS  DocumentType = "xls"
)

// MIME types produced by the stamping engine
const (
	MIMEPDF  = "application/pdf"
	MIMEXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ParseDocumentType validates a declared type tag. Matching is case-insensitive and tolerates
// a leading dot so file extensions can be passed directly.
func ParseDocumentType(s string) (DocumentType, error) {
	normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	switch DocumentType(normalized) {
	case TypePDF, TypeXLSX, TypeXLS:
		return DocumentType(normalized), nil
	default:
		return "", NewUnsupportedTypeError(s)
	}
}

// IsSpreadsheet reports whether the type is handled by the spreadsheet backend
func (t DocumentType) IsSpreadsheet() bool {
	return t == TypeXLSX || t == TypeXLS
}

// ContentType returns the MIME type of stamped output. Spreadsheets are always written as OOXML.
func (t DocumentType) ContentType() string {
	if t == TypePDF {
		return MIMEPDF
	}
	return MIMEXLSX
}

// Extension returns the file extension of stamped output, without the dot
func (t DocumentType) Extension() string {
	if t == TypePDF {
		return "pdf"
	}
	return "xlsx"
}

// SignaturePlacement is a persisted, document-native position of the signature image.
// For PDFs X/Y are points from the bottom-left of Page. For spreadsheets CellAddress is the
// ground truth and X/Y are a derived point kept for symmetry; Page is always 1.
type SignaturePlacement struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Page        int     `json:"page"`
	CellAddress string  `json:"cell_address,omitempty"`
}

// Validate checks the placement invariants that do not depend on a bound document
func (p SignaturePlacement) Validate() error {
	if p.X < 0 || p.Y < 0 {
		return NewInvalidPlacementError("validate", fmt.Sprintf("coordinates must be non-negative, got (%g, %g)", p.X, p.Y))
	}
	if p.Page < 1 {
		return NewInvalidPlacementError("validate", fmt.Sprintf("page must be >= 1, got %d", p.Page))
	}
	if p.CellAddress != "" {
		if _, _, err := excelize.CellNameToCoordinates(p.CellAddress); err != nil {
			return NewInvalidPlacementError("validate", fmt.Sprintf("invalid cell address %q", p.CellAddress))
		}
	}
	return nil
}

// ValidateFor checks the placement against a bound document of the given type and page count
func (p SignaturePlacement) ValidateFor(t DocumentType, totalPages int) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if t == TypePDF && p.Page > totalPages {
		return NewInvalidPlacementError("validate", fmt.Sprintf("page %d out of range (document has %d pages)", p.Page, totalPages))
	}
	if t.IsSpreadsheet() && p.Page != 1 {
		return NewInvalidPlacementError("validate", "spreadsheet placements address the first sheet only")
	}
	return nil
}

// TextLabelPlacement is the optional, independent position of the display-name label
type TextLabelPlacement struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Text        string  `json:"text,omitempty"`
	CellAddress string  `json:"cell_address,omitempty"`
}

// Validate checks the label invariants
func (l TextLabelPlacement) Validate() error {
	if l.X < 0 || l.Y < 0 {
		return NewInvalidPlacementError("validate_label", fmt.Sprintf("coordinates must be non-negative, got (%g, %g)", l.X, l.Y))
	}
	if l.CellAddress != "" {
		if _, _, err := excelize.CellNameToCoordinates(l.CellAddress); err != nil {
			return NewInvalidPlacementError("validate_label", fmt.Sprintf("invalid cell address %q", l.CellAddress))
		}
	}
	return nil
}

// HasPoint reports whether the label carries its own native point.
// A nil label or one at the origin is drawn next to the signature image instead.
func (l *TextLabelPlacement) HasPoint() bool {
	return l != nil && (l.X != 0 || l.Y != 0)
}

// HasCell reports whether the label names its own cell
func (l *TextLabelPlacement) HasCell() bool {
	return l != nil && l.CellAddress != ""
}
