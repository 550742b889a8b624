package workbook

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
	"github.com/kwonno/O2-maintenance-sub000/internal/document"
	"github.com/kwonno/O2-maintenance-sub000/internal/testutil"
)

// three sheets, shared strings, MULRK numbers and two formulas with cached results
func TestOpen_Excel97Workbook(t *testing.T) {
	f, err := Open(testutil.Excel97())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Test sheet 1", "Test sheet 2", "Sheet3"}, f.GetSheetList())

	sheet, err := FirstSheet(f)
	require.NoError(t, err)
	l, err := ReadLayout(f, sheet)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"Test1", "Lorem", "Ipsum"},
		{"Avocado", "1", "2"},
		{"", "3", "5"},
		{"", "4", "7"},
	}, l.Display)
	assert.Equal(t, 3, l.Cols)
	assert.Equal(t, 4, l.Rows)
	assert.InDelta(t, 16.4, l.Grid.RowHeight(0), 1e-9)
	assert.InDelta(t, 15, l.Grid.RowHeight(1), 1e-9)

	second, err := f.GetCellValue("Test sheet 2", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Test2", second)
}

func TestOpen_Excel97Garbage(t *testing.T) {
	data := append(append([]byte(nil), compoundMagic...), make([]byte, 504)...)
	_, err := Open(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, document.ErrDocumentLoad))
}

func record(typ uint16, body ...[]byte) []byte {
	payload := bytes.Join(body, nil)
	out := binary.LittleEndian.AppendUint16(nil, typ)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	return append(out, payload...)
}

func u16(vs ...uint16) []byte {
	var out []byte
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	return out
}

func u32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func wide(s string) []byte { return u16(utf16.Encode([]rune(s))...) }

func bof(kind uint16) []byte {
	return record(recBOF, u16(biff8Version, kind), make([]byte, 12))
}

// legacyWorkbook assembles a BIFF8 stream with one worksheet named "Signatures"
func legacyWorkbook(sheet ...[]byte) []byte {
	sst := record(recSST, u32(2), u32(2),
		u16(11), []byte{0x00}, []byte("Approved"))
	// the first string continues in UTF-16 and the second starts in the CONTINUE body
	sst = append(sst, record(recContinue, []byte{0x01}, wide(" by"),
		u16(3), []byte{0x01}, wide("Zoë"))...)

	boundSheet := func(off uint32) []byte {
		return record(recBoundSheet, u32(off), []byte{0x00, sheetTypeWork, 10, 0x00}, []byte("Signatures"))
	}
	globalsLen := len(bof(bofGlobals)) + len(boundSheet(0)) + len(sst) + len(record(recEOF))
	globals := bytes.Join([][]byte{bof(bofGlobals), boundSheet(uint32(globalsLen)), sst, record(recEOF)}, nil)

	body := append([][]byte{bof(bofWorksheet)}, sheet...)
	body = append(body, record(recEOF))
	return append(globals, bytes.Join(body, nil)...)
}

func cell(row, col uint16) []byte { return u16(row, col, 15) }

func TestOpenLegacy_Records(t *testing.T) {
	number := binary.LittleEndian.AppendUint64(nil, math.Float64bits(2.5))
	stringResult := []byte{0x00, 0, 0, 0, 0, 0, 0xFF, 0xFF}
	stream := legacyWorkbook(
		record(recColInfo, u16(1, 2, 20*256, 15, 0, 0)),
		record(recRow, u16(4, 0, 3, 40*20, 0, 0, 0x0140, 15)),
		record(recLabelSST, cell(0, 0), u32(0)),
		record(recLabelSST, cell(0, 1), u32(1)),
		record(recLabel, cell(1, 0), u16(4), []byte{0x00}, []byte("Name")),
		record(recNumber, cell(1, 1), number),
		record(recRK, cell(1, 2), u32(125<<2|0x03)),
		record(recBoolErr, cell(2, 0), []byte{1, 0}),
		record(recBoolErr, cell(2, 1), []byte{0x07, 1}),
		record(recFormula, cell(3, 0), stringResult, u16(0), u32(0), u16(0)),
		record(recString, u16(2), []byte{0x00}, []byte("ok")),
		record(recMergeCells, u16(1), u16(4, 5, 1, 3)),
	)

	f, err := openLegacy(stream)
	require.NoError(t, err)
	defer f.Close()

	l, err := ReadLayout(f, "Signatures")
	require.NoError(t, err)

	assert.Equal(t, "Approved by", l.DisplayAt(0, 0), "string split across CONTINUE")
	assert.Equal(t, "Zoë", l.DisplayAt(1, 0))
	assert.Equal(t, "Name", l.DisplayAt(0, 1))
	assert.Equal(t, "2.5", l.DisplayAt(1, 1))
	assert.Equal(t, "1.25", l.DisplayAt(2, 1), "RK scaled by 100")
	assert.Equal(t, "TRUE", l.DisplayAt(0, 2))
	assert.Equal(t, "#DIV/0!", l.DisplayAt(1, 2))
	assert.Equal(t, "ok", l.DisplayAt(0, 3), "string formula result")

	assert.Equal(t, []coords.MergeRange{{FirstCol: 1, FirstRow: 4, LastCol: 3, LastRow: 5}}, l.Merges)
	assert.Equal(t, 4, l.Cols)
	assert.Equal(t, 6, l.Rows)
	assert.InDelta(t, coords.ColumnWidthPoints(20), l.Grid.ColWidth(1), 1e-9)
	assert.InDelta(t, coords.ColumnWidthPoints(20), l.Grid.ColWidth(2), 1e-9)
	assert.InDelta(t, coords.DefaultColumnWidth, l.Grid.ColWidth(0), 1e-9)
	assert.InDelta(t, 40, l.Grid.RowHeight(4), 1e-9)
}

func TestOpenLegacy_EmbeddedChartKeepsSheet(t *testing.T) {
	stream := legacyWorkbook(
		bof(0x0020), record(recEOF),
		record(recLabel, cell(2, 2), u16(5), []byte{0x00}, []byte("after")),
	)
	f, err := openLegacy(stream)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Signatures", "C3")
	require.NoError(t, err)
	assert.Equal(t, "after", v)
}

func TestOpenLegacy_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
		want   error
	}{
		{
			name:   "encrypted",
			stream: bytes.Join([][]byte{bof(bofGlobals), record(recFilePass, u16(0)), record(recEOF)}, nil),
			want:   ErrLegacyEncrypted,
		},
		{
			name:   "BIFF5",
			stream: bytes.Join([][]byte{record(recBOF, u16(0x0500, bofGlobals), make([]byte, 4)), record(recEOF)}, nil),
			want:   ErrLegacyVersion,
		},
		{
			name:   "no EOF",
			stream: bof(bofGlobals),
			want:   ErrLegacyCorrupt,
		},
		{
			name:   "shared string out of range",
			stream: legacyWorkbook(record(recLabelSST, cell(0, 0), u32(9))),
			want:   ErrLegacyCorrupt,
		},
		{
			name:   "no worksheets",
			stream: bytes.Join([][]byte{bof(bofGlobals), record(recEOF)}, nil),
			want:   ErrNoSheet,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openLegacy(tt.stream)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRK(t *testing.T) {
	assert.Equal(t, 1.0, decodeRK(0x00000006))
	assert.Equal(t, -3.0, decodeRK(uint32(0xFFFFFFF6)))
	assert.Equal(t, 1.25, decodeRK(125<<2|0x03))
	assert.Equal(t, 2.5, decodeRK(uint32(math.Float64bits(2.5)>>32)))
}
