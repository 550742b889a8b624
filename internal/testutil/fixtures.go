// Package testutil generates small in-memory documents and images for package tests.
package testutil

import (
	"bytes"
	_ "embed"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/xuri/excelize/v2"
)

// PDF returns a minimal, well-formed PDF with the given number of pages of size w x h points.
// Every page strokes a black line from (10,10) to (20,20).
func PDF(pages int, w, h float64) []byte {
	const content = "0 0 0 RG 10 10 m 20 20 l S"
	b := newPDFWriter()
	b.obj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	b.obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))

	for i := 0; i < pages; i++ {
		b.obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Contents %d 0 R /Resources << >> >>",
			w, h, 4+2*i))
		b.obj(Stream("", content))
	}
	return b.finish()
}

// PDFPage returns a one-page PDF drawing content with the given resource dictionary.
// extra objects are numbered from 5, so resources can reference them as "5 0 R" onward.
func PDFPage(w, h float64, content, resources string, extra ...string) []byte {
	if resources == "" {
		resources = "<< >>"
	}
	b := newPDFWriter()
	b.obj("<< /Type /Catalog /Pages 2 0 R >>")
	b.obj("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Contents 4 0 R /Resources %s >>",
		w, h, resources))
	b.obj(Stream("", content))
	for _, body := range extra {
		b.obj(body)
	}
	return b.finish()
}

// Stream formats a stream object body; dict holds entries besides /Length
func Stream(dict, data string) string {
	if dict != "" {
		dict += " "
	}
	return fmt.Sprintf("<< %s/Length %d >>\nstream\n%s\nendstream", dict, len(data), data)
}

type pdfWriter struct {
	buf     bytes.Buffer
	offsets []int
}

func newPDFWriter() *pdfWriter {
	w := &pdfWriter{}
	w.buf.WriteString("%PDF-1.4\n")
	return w
}

func (w *pdfWriter) obj(body string) {
	w.offsets = append(w.offsets, w.buf.Len())
	fmt.Fprintf(&w.buf, "%d 0 obj\n%s\nendobj\n", len(w.offsets), body)
}

func (w *pdfWriter) finish() []byte {
	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n0000000000 65535 f \n", len(w.offsets)+1)
	for _, off := range w.offsets {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&w.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(w.offsets)+1, xref)
	return w.buf.Bytes()
}

// PNG returns a w x h PNG with a dark diagonal stroke on a transparent background
func PNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		y := x * h / max(w, 1)
		img.Set(x, y, color.NRGBA{A: 0xff})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Workbook builds an xlsx from a cell->value map and optional merges such as "B5:D5"
func Workbook(cells map[string]any, merges ...string) []byte {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for addr, v := range cells {
		if err := f.SetCellValue(sheet, addr, v); err != nil {
			panic(err)
		}
	}
	for _, m := range merges {
		start, end, _ := strings.Cut(m, ":")
		if err := f.MergeCell(sheet, start, end); err != nil {
			panic(err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// WorkbookWith builds an xlsx after letting fn mutate a fresh file
func WorkbookWith(fn func(f *excelize.File, sheet string) error) []byte {
	f := excelize.NewFile()
	defer f.Close()

	if err := fn(f, f.GetSheetName(0)); err != nil {
		panic(err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

//go:embed testdata/excel97.xls
var excel97 []byte

// Excel97 returns a BIFF8 workbook saved by Excel 2003. Its first sheet "Test sheet 1" holds
// Test1 Lorem Ipsum / Avocado 1 2 / _ 3 5 / _ 4 7, the last row being formulas.
func Excel97() []byte {
	return append([]byte(nil), excel97...)
}
