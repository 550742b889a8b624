package stamp

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/signature"
	"github.com/kwonno/O2-maintenance-sub000/internal/workbook"
)

// Default label style for cells that have no font or alignment of their own
var (
	defaultLabelFont      = &excelize.Font{Bold: true, Size: 12}
	defaultLabelAlignment = &excelize.Alignment{Horizontal: "center", Vertical: "center"}
)

func (e *Engine) stampSheet(req Request) (*Result, error) {
	f, err := workbook.Open(req.Document)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet, err := workbook.FirstSheet(f)
	if err != nil {
		return nil, err
	}
	layout, err := workbook.ReadLayout(f, sheet)
	if err != nil {
		return nil, err
	}

	// spreadsheets have a single addressable page
	if req.Signature.Page == 0 {
		req.Signature.Page = 1
	}
	if err := req.Signature.ValidateFor(document.TypeXLSX, 1); err != nil {
		return unmodifiedSheet(f, req.Document, err)
	}
	imageCell, err := resolveCell(layout, req.Signature.CellAddress, req.Signature.X, req.Signature.Y)
	if err != nil {
		return unmodifiedSheet(f, req.Document, err)
	}

	img, err := signature.Normalize(req.Image)
	if err != nil {
		return nil, err
	}

	scale := math.Min(float64(e.opts.SheetImageWidth)/float64(img.Width), float64(e.opts.SheetImageHeight)/float64(img.Height))
	pic := &excelize.Picture{
		Extension: img.Extension(),
		File:      img.Data,
		Format: &excelize.GraphicOptions{
			ScaleX:          scale,
			ScaleY:          scale,
			LockAspectRatio: true,
			Positioning:     "oneCell",
			AltText:         "signature",
		},
	}
	if err := f.AddPictureFromBytes(sheet, imageCell, pic); err != nil {
		return nil, document.NewImageDecodeError("sheet_stamp", err)
	}

	res := &Result{Stamped: true, ImageCell: imageCell}

	if text := req.labelText(); text != "" {
		labelCell, err := e.labelCell(layout, req, imageCell)
		if err != nil {
			res.warn(err)
		} else {
			res.LabelCell = labelCell
			drawn, err := writeLabel(f, sheet, labelCell, text)
			if err != nil {
				return nil, err
			}
			res.LabelDrawn = drawn
			if !drawn {
				e.logger.Debug("label cell occupied, leaving it untouched")
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	res.Data = buf.Bytes()
	return res, nil
}

// unmodifiedSheet returns the workbook without a stamp. An .xls source is re-encoded so the
// output always matches its .xlsx name and content type.
func unmodifiedSheet(f *excelize.File, src []byte, reason error) (*Result, error) {
	if !workbook.IsLegacy(src) {
		return unmodified(src, reason), nil
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	res := &Result{Data: buf.Bytes()}
	res.warn(reason)
	return res, nil
}

// resolveCell returns the A1 address for a placement. A cell address is the ground truth;
// without one the native point is converted with the same grid the preview used.
func resolveCell(layout *workbook.Layout, addr string, x, y float64) (string, error) {
	if addr != "" {
		col, row, err := coords.ParseCellAddress(addr)
		if err != nil {
			return "", document.NewInvalidPlacementError("sheet_stamp", err.Error())
		}
		return coords.CellAddress(col, row)
	}
	_, _, cell, err := layout.Locate(x, y)
	if err != nil {
		return "", document.NewInvalidPlacementError("sheet_stamp", err.Error())
	}
	return cell, nil
}

// labelCell resolves the label's own cell, or the cell below the image, and then moves it
// to the anchor if it falls inside a merge (only the anchor holds a merge's value)
func (e *Engine) labelCell(layout *workbook.Layout, req Request, imageCell string) (string, error) {
	var (
		cell string
		err  error
	)
	switch {
	case req.Label.HasCell() || req.Label.HasPoint():
		if err := req.Label.Validate(); err != nil {
			return "", err
		}
		cell, err = resolveCell(layout, req.Label.CellAddress, req.Label.X, req.Label.Y)
	default:
		col, row, perr := coords.ParseCellAddress(imageCell)
		if perr != nil {
			return "", document.NewInvalidPlacementError("sheet_label", perr.Error())
		}
		if m, ok := layout.MergeAt(col, row); ok {
			row = m.LastRow
		}
		cell, err = coords.CellAddress(col, row+1)
	}
	if err != nil {
		return "", err
	}

	col, row, err := coords.ParseCellAddress(cell)
	if err != nil {
		return "", document.NewInvalidPlacementError("sheet_label", err.Error())
	}
	if m, ok := layout.MergeAt(col, row); ok {
		return coords.CellAddress(m.FirstCol, m.FirstRow)
	}
	return cell, nil
}

// writeLabel sets text only into an empty cell, keeping any existing font and alignment
func writeLabel(f *excelize.File, sheet, cell, text string) (bool, error) {
	value, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return false, fmt.Errorf("read label cell %s: %w", cell, err)
	}
	formula, err := f.GetCellFormula(sheet, cell)
	if err != nil {
		return false, fmt.Errorf("read label cell %s: %w", cell, err)
	}
	if value != "" || formula != "" {
		return false, nil
	}

	if err := f.SetCellValue(sheet, cell, text); err != nil {
		return false, fmt.Errorf("write label cell %s: %w", cell, err)
	}

	styleID, err := f.GetCellStyle(sheet, cell)
	if err != nil {
		return false, fmt.Errorf("read label style %s: %w", cell, err)
	}
	style := &excelize.Style{}
	if styleID != 0 {
		if style, err = f.GetStyle(styleID); err != nil {
			return false, fmt.Errorf("read label style %s: %w", cell, err)
		}
	}

	changed := false
	if styleID == 0 || style.Font == nil {
		font := *defaultLabelFont
		style.Font = &font
		changed = true
	}
	if styleID == 0 || style.Alignment == nil {
		alignment := *defaultLabelAlignment
		style.Alignment = &alignment
		changed = true
	}
	if !changed {
		return true, nil
	}

	newID, err := f.NewStyle(style)
	if err != nil {
		return false, fmt.Errorf("create label style: %w", err)
	}
	if err := f.SetCellStyle(sheet, cell, cell, newID); err != nil {
		return false, fmt.Errorf("apply label style %s: %w", cell, err)
	}
	return true, nil
}
