package workbook

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"github.com/xuri/excelize/v2"

	"github.com/kwonno/O2-maintenance-sub000/internal/coords"
)

// compoundMagic opens every OLE2 compound file: legacy .xls as well as password protected .xlsx
var compoundMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

var (
	// ErrLegacyVersion is returned for pre-97 workbooks stored in a "Book" stream
	ErrLegacyVersion = errors.New("only Excel 97-2003 (BIFF8) .xls workbooks are supported")
	// ErrLegacyEncrypted is returned for .xls workbooks with a FILEPASS record
	ErrLegacyEncrypted = errors.New("encrypted .xls workbooks are not supported")
	// ErrLegacyCorrupt is returned when the BIFF record stream is malformed
	ErrLegacyCorrupt = errors.New("malformed .xls record stream")
)

// BIFF8 record types
const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recFilePass   = 0x002F
	recContinue   = 0x003C
	recColInfo    = 0x007D
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recMergeCells = 0x00E5
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recBoolErr    = 0x0205
	recString     = 0x0207
	recRow        = 0x0208
	recRK         = 0x027E
	recBOF        = 0x0809
)

const (
	biff8Version  = 0x0600
	bofGlobals    = 0x0005
	bofWorksheet  = 0x0010
	sheetTypeWork = 0x00
	maxBIFFCol    = 255
)

var cellErrors = map[byte]string{
	0x00: "#NULL!", 0x07: "#DIV/0!", 0x0F: "#VALUE!", 0x17: "#REF!",
	0x1D: "#NAME?", 0x24: "#NUM!", 0x2A: "#N/A",
}

// IsLegacy reports whether data is an OLE2 compound file rather than an OOXML package
func IsLegacy(data []byte) bool {
	return bytes.HasPrefix(data, compoundMagic)
}

// legacyStream returns the BIFF8 "Workbook" stream of a compound file, or nil when the container
// holds something else (an encrypted OOXML package goes to excelize instead)
func legacyStream(data []byte) ([]byte, error) {
	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		switch entry.Name {
		case "Workbook":
			if entry.Size > int64(len(data)) {
				return nil, fmt.Errorf("%w: stream of %d bytes in a %d byte file", ErrLegacyCorrupt, entry.Size, len(data))
			}
			buf := make([]byte, entry.Size)
			if _, err := io.ReadFull(doc, buf); err != nil {
				return nil, fmt.Errorf("read workbook stream: %w", err)
			}
			return buf, nil
		case "Book":
			return nil, ErrLegacyVersion
		}
	}
	return nil, nil
}

type biffRecord struct {
	typ  uint16
	data []byte
	cont [][]byte // CONTINUE bodies following the record
}

// readRecords reads one substream from its BOF at off up to and including the matching EOF.
// Embedded chart substreams nest their own BOF/EOF pair.
func readRecords(stream []byte, off int) ([]biffRecord, error) {
	var recs []biffRecord
	depth := 0
	for {
		if off < 0 || off+4 > len(stream) {
			return nil, fmt.Errorf("%w: substream ends without EOF", ErrLegacyCorrupt)
		}
		typ := binary.LittleEndian.Uint16(stream[off:])
		n := int(binary.LittleEndian.Uint16(stream[off+2:]))
		off += 4
		if off+n > len(stream) {
			return nil, fmt.Errorf("%w: record 0x%04X overruns the stream", ErrLegacyCorrupt, typ)
		}
		body := stream[off : off+n]
		off += n

		if typ == recContinue && len(recs) > 0 {
			last := &recs[len(recs)-1]
			last.cont = append(last.cont, body)
			continue
		}
		recs = append(recs, biffRecord{typ: typ, data: body})
		switch typ {
		case recBOF:
			depth++
		case recEOF:
			if depth--; depth <= 0 {
				return recs, nil
			}
		}
	}
}

// segments walks a record body and its CONTINUE bodies as one logical buffer
type segments struct {
	parts [][]byte
	part  int
	off   int
}

func newSegments(r biffRecord) *segments {
	return &segments{parts: append([][]byte{r.data}, r.cont...)}
}

func (s *segments) advance() bool {
	for s.part < len(s.parts) && s.off >= len(s.parts[s.part]) {
		s.part++
		s.off = 0
	}
	return s.part < len(s.parts)
}

func (s *segments) bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if !s.advance() {
			return nil, fmt.Errorf("%w: truncated record", ErrLegacyCorrupt)
		}
		cur := s.parts[s.part]
		take := min(n-len(out), len(cur)-s.off)
		out = append(out, cur[s.off:s.off+take]...)
		s.off += take
	}
	return out, nil
}

func (s *segments) uint16() (uint16, error) {
	b, err := s.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *segments) uint32() (uint32, error) {
	b, err := s.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// chars reads n characters. A string split by CONTINUE restarts with a fresh option byte that
// may switch between compressed and UTF-16 storage.
func (s *segments) chars(n int, wide bool) (string, error) {
	units := make([]uint16, 0, n)
	for len(units) < n {
		if s.part < len(s.parts) && s.off >= len(s.parts[s.part]) {
			if s.part+1 >= len(s.parts) {
				return "", fmt.Errorf("%w: truncated string", ErrLegacyCorrupt)
			}
			s.part++
			s.off = 0
			flags, err := s.bytes(1)
			if err != nil {
				return "", err
			}
			wide = flags[0]&0x01 != 0
		}
		cur := s.parts[s.part]
		if wide {
			for len(units) < n && s.off+2 <= len(cur) {
				units = append(units, binary.LittleEndian.Uint16(cur[s.off:]))
				s.off += 2
			}
			if len(units) < n && s.off < len(cur) {
				return "", fmt.Errorf("%w: split UTF-16 character", ErrLegacyCorrupt)
			}
			continue
		}
		for len(units) < n && s.off < len(cur) {
			units = append(units, uint16(cur[s.off]))
			s.off++
		}
	}
	return string(utf16.Decode(units)), nil
}

// unicodeString reads an XLUnicodeRichExtendedString: count, option flags, optional rich text
// and phonetic block sizes, characters, then the skipped run and phonetic data
func (s *segments) unicodeString() (string, error) {
	n, err := s.uint16()
	if err != nil {
		return "", err
	}
	flags, err := s.bytes(1)
	if err != nil {
		return "", err
	}
	var runs, ext int
	if flags[0]&0x08 != 0 {
		c, err := s.uint16()
		if err != nil {
			return "", err
		}
		runs = int(c)
	}
	if flags[0]&0x04 != 0 {
		c, err := s.uint32()
		if err != nil {
			return "", err
		}
		ext = int(c)
	}
	text, err := s.chars(int(n), flags[0]&0x01 != 0)
	if err != nil {
		return "", err
	}
	if _, err := s.bytes(4*runs + ext); err != nil {
		return "", err
	}
	return text, nil
}

// shortString decodes the one-byte-count string of a BOUNDSHEET record
func shortString(b []byte) (string, error) {
	if len(b) < 2 {
		return "", fmt.Errorf("%w: short string", ErrLegacyCorrupt)
	}
	s := &segments{parts: [][]byte{b[2:]}}
	return s.chars(int(b[0]), b[1]&0x01 != 0)
}

// decodeRK unpacks the 30-bit RK number encoding
func decodeRK(rk uint32) float64 {
	var v float64
	if rk&0x02 != 0 {
		v = float64(int32(rk) >> 2)
	} else {
		v = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		v /= 100
	}
	return v
}

type legacyCell struct {
	row, col int
	value    any
}

type legacyColumns struct {
	first, last int
	width       float64
}

type legacySheet struct {
	name    string
	offset  int
	cells   []legacyCell
	columns []legacyColumns
	heights map[int]float64
	merges  []coords.MergeRange
}

// parseBIFF reads the worksheets of a BIFF8 workbook stream. Charts and macro sheets are skipped.
func parseBIFF(stream []byte) ([]*legacySheet, error) {
	globals, err := readRecords(stream, 0)
	if err != nil {
		return nil, err
	}
	if err := checkBOF(globals, bofGlobals); err != nil {
		return nil, err
	}

	var sheets []*legacySheet
	var sst []string
	for _, r := range globals {
		switch r.typ {
		case recFilePass:
			return nil, ErrLegacyEncrypted
		case recBoundSheet:
			if len(r.data) < 8 {
				return nil, fmt.Errorf("%w: BOUNDSHEET", ErrLegacyCorrupt)
			}
			if r.data[5] != sheetTypeWork {
				continue
			}
			name, err := shortString(r.data[6:])
			if err != nil {
				return nil, err
			}
			sheets = append(sheets, &legacySheet{
				name:    name,
				offset:  int(binary.LittleEndian.Uint32(r.data)),
				heights: map[int]float64{},
			})
		case recSST:
			if sst, err = readSST(r); err != nil {
				return nil, err
			}
		}
	}

	for _, sh := range sheets {
		recs, err := readRecords(stream, sh.offset)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sh.name, err)
		}
		if err := checkBOF(recs, bofWorksheet); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sh.name, err)
		}
		if err := sh.read(recs, sst); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sh.name, err)
		}
	}
	return sheets, nil
}

func checkBOF(recs []biffRecord, kind uint16) error {
	if len(recs) == 0 || recs[0].typ != recBOF || len(recs[0].data) < 4 {
		return fmt.Errorf("%w: missing BOF", ErrLegacyCorrupt)
	}
	if v := binary.LittleEndian.Uint16(recs[0].data); v != biff8Version {
		return fmt.Errorf("%w: BIFF version 0x%04X", ErrLegacyVersion, v)
	}
	if dt := binary.LittleEndian.Uint16(recs[0].data[2:]); dt != kind {
		return fmt.Errorf("%w: substream type 0x%04X, want 0x%04X", ErrLegacyCorrupt, dt, kind)
	}
	return nil
}

func readSST(r biffRecord) ([]string, error) {
	s := newSegments(r)
	if _, err := s.uint32(); err != nil {
		return nil, err
	}
	unique, err := s.uint32()
	if err != nil {
		return nil, err
	}
	// each entry takes at least three bytes
	if int(unique) > (len(r.data)+totalLen(r.cont))/3 {
		return nil, fmt.Errorf("%w: SST claims %d strings", ErrLegacyCorrupt, unique)
	}
	out := make([]string, 0, unique)
	for i := uint32(0); i < unique; i++ {
		text, err := s.unicodeString()
		if err != nil {
			return nil, fmt.Errorf("shared string %d: %w", i, err)
		}
		out = append(out, text)
	}
	return out, nil
}

func totalLen(parts [][]byte) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}

func (sh *legacySheet) read(recs []biffRecord, sst []string) error {
	var pending *legacyCell // formula waiting for its STRING record
	for _, r := range recs {
		d := r.data
		switch r.typ {
		case recLabelSST:
			if len(d) < 10 {
				return fmt.Errorf("%w: LABELSST", ErrLegacyCorrupt)
			}
			i := int(binary.LittleEndian.Uint32(d[6:]))
			if i >= len(sst) {
				return fmt.Errorf("%w: shared string %d of %d", ErrLegacyCorrupt, i, len(sst))
			}
			sh.put(d, sst[i])
		case recLabel:
			if len(d) < 9 {
				return fmt.Errorf("%w: LABEL", ErrLegacyCorrupt)
			}
			s := &segments{parts: [][]byte{d[9:]}}
			text, err := s.chars(int(binary.LittleEndian.Uint16(d[6:])), d[8]&0x01 != 0)
			if err != nil {
				return err
			}
			sh.put(d, text)
		case recNumber:
			if len(d) < 14 {
				return fmt.Errorf("%w: NUMBER", ErrLegacyCorrupt)
			}
			sh.put(d, math.Float64frombits(binary.LittleEndian.Uint64(d[6:])))
		case recRK:
			if len(d) < 10 {
				return fmt.Errorf("%w: RK", ErrLegacyCorrupt)
			}
			sh.put(d, decodeRK(binary.LittleEndian.Uint32(d[6:])))
		case recMulRK:
			if len(d) < 6 || (len(d)-6)%6 != 0 {
				return fmt.Errorf("%w: MULRK", ErrLegacyCorrupt)
			}
			row := int(binary.LittleEndian.Uint16(d))
			col := int(binary.LittleEndian.Uint16(d[2:]))
			for off := 4; off+6 <= len(d)-2; off += 6 {
				sh.cells = append(sh.cells, legacyCell{row: row, col: col,
					value: decodeRK(binary.LittleEndian.Uint32(d[off+2:]))})
				col++
			}
		case recBoolErr:
			if len(d) < 8 {
				return fmt.Errorf("%w: BOOLERR", ErrLegacyCorrupt)
			}
			if d[7] != 0 {
				sh.put(d, cellErrors[d[6]])
			} else {
				sh.put(d, d[6] != 0)
			}
		case recFormula:
			if len(d) < 14 {
				return fmt.Errorf("%w: FORMULA", ErrLegacyCorrupt)
			}
			pending = sh.formula(d)
		case recString:
			if pending != nil && len(d) >= 3 {
				s := &segments{parts: append([][]byte{d[3:]}, r.cont...)}
				text, err := s.chars(int(binary.LittleEndian.Uint16(d)), d[2]&0x01 != 0)
				if err != nil {
					return err
				}
				pending.value = text
				sh.cells = append(sh.cells, *pending)
				pending = nil
			}
		case recColInfo:
			if len(d) < 6 {
				return fmt.Errorf("%w: COLINFO", ErrLegacyCorrupt)
			}
			first := int(binary.LittleEndian.Uint16(d))
			last := min(int(binary.LittleEndian.Uint16(d[2:])), maxBIFFCol)
			if first <= last {
				sh.columns = append(sh.columns, legacyColumns{first: first, last: last,
					width: float64(binary.LittleEndian.Uint16(d[4:])) / 256})
			}
		case recRow:
			if len(d) < 8 {
				return fmt.Errorf("%w: ROW", ErrLegacyCorrupt)
			}
			if twips := binary.LittleEndian.Uint16(d[6:]) & 0x7FFF; twips > 0 {
				sh.heights[int(binary.LittleEndian.Uint16(d))] = float64(twips) / 20
			}
		case recMergeCells:
			if err := sh.readMerges(d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sh *legacySheet) put(d []byte, value any) {
	sh.cells = append(sh.cells, legacyCell{
		row:   int(binary.LittleEndian.Uint16(d)),
		col:   int(binary.LittleEndian.Uint16(d[2:])),
		value: value,
	})
}

// formula stores the cached result of a FORMULA record. A string result arrives in the next
// STRING record, so the cell is returned for the caller to complete.
func (sh *legacySheet) formula(d []byte) *legacyCell {
	cell := legacyCell{row: int(binary.LittleEndian.Uint16(d)), col: int(binary.LittleEndian.Uint16(d[2:]))}
	if d[12] != 0xFF || d[13] != 0xFF {
		cell.value = math.Float64frombits(binary.LittleEndian.Uint64(d[6:]))
		sh.cells = append(sh.cells, cell)
		return nil
	}
	switch d[6] {
	case 0x00:
		return &cell
	case 0x01:
		cell.value = d[8] != 0
	case 0x02:
		cell.value = cellErrors[d[8]]
	default:
		return nil
	}
	sh.cells = append(sh.cells, cell)
	return nil
}

func (sh *legacySheet) readMerges(d []byte) error {
	if len(d) < 2 {
		return fmt.Errorf("%w: MERGECELLS", ErrLegacyCorrupt)
	}
	n := int(binary.LittleEndian.Uint16(d))
	if len(d) < 2+8*n {
		return fmt.Errorf("%w: MERGECELLS holds %d ranges in %d bytes", ErrLegacyCorrupt, n, len(d))
	}
	for i := 0; i < n; i++ {
		ref := d[2+8*i:]
		m := coords.MergeRange{
			FirstRow: int(binary.LittleEndian.Uint16(ref)),
			LastRow:  int(binary.LittleEndian.Uint16(ref[2:])),
			FirstCol: int(binary.LittleEndian.Uint16(ref[4:])),
			LastCol:  int(binary.LittleEndian.Uint16(ref[6:])),
		}
		if m.FirstRow <= m.LastRow && m.FirstCol <= m.LastCol && (m.FirstRow != m.LastRow || m.FirstCol != m.LastCol) {
			sh.merges = append(sh.merges, m)
		}
	}
	return nil
}

// openLegacy converts a BIFF8 workbook stream into an in-memory excelize workbook. Values,
// column widths, row heights and merges survive; formulas keep their cached result and number
// formats are dropped.
func openLegacy(stream []byte) (*excelize.File, error) {
	sheets, err := parseBIFF(stream)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}

	f := excelize.NewFile()
	for i, sh := range sheets {
		if err := sh.write(f, i == 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("sheet %q: %w", sh.name, err)
		}
	}
	return f, nil
}

func (sh *legacySheet) write(f *excelize.File, first bool) error {
	if first {
		if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
			return err
		}
	} else if _, err := f.NewSheet(sh.name); err != nil {
		return err
	}

	for _, c := range sh.cells {
		addr, err := coords.CellAddress(c.col, c.row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sh.name, addr, c.value); err != nil {
			return err
		}
	}
	for _, c := range sh.columns {
		from, err := coords.ColumnName(c.first)
		if err != nil {
			return err
		}
		to, err := coords.ColumnName(c.last)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sh.name, from, to, c.width); err != nil {
			return err
		}
	}
	for row, height := range sh.heights {
		if err := f.SetRowHeight(sh.name, row+1, height); err != nil {
			return err
		}
	}
	for _, m := range sh.merges {
		from, err := coords.CellAddress(m.FirstCol, m.FirstRow)
		if err != nil {
			return err
		}
		to, err := coords.CellAddress(m.LastCol, m.LastRow)
		if err != nil {
			return err
		}
		if err := f.MergeCell(sh.name, from, to); err != nil {
			return err
		}
	}
	return nil
}
