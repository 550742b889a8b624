package stamp

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"go.uber.org/zap"
	"golang.org/x/image/font/sfnt"

	"github.com/kwonno/O2-maintenance-sub000/internal/document"
)

// BuiltinFont is the Latin-only core font used when no bundled font is available
const BuiltinFont = "Helvetica"

// FontSource provides the bytes of one TrueType font
type FontSource interface {
	// Name identifies the source in logs
	Name() string
	// Load returns the font file contents
	Load() ([]byte, error)
}

// FileFontSource loads a font from a path on disk
type FileFontSource struct {
	Path string
}

// Name implements FontSource
func (s FileFontSource) Name() string { return s.Path }

// Load implements FontSource
func (s FileFontSource) Load() ([]byte, error) {
	return os.ReadFile(s.Path)
}

// FileFontSources builds an ordered source list from paths, skipping blanks
func FileFontSources(paths ...string) []FontSource {
	sources := make([]FontSource, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			sources = append(sources, FileFontSource{Path: p})
		}
	}
	return sources
}

// StaticFontSource serves font bytes already in memory, such as an embedded font
type StaticFontSource struct {
	Label string
	Data  []byte
}

// Name implements FontSource
func (s StaticFontSource) Name() string { return s.Label }

// Load implements FontSource
func (s StaticFontSource) Load() ([]byte, error) {
	if len(s.Data) == 0 {
		return nil, errors.New("empty font data")
	}
	return s.Data, nil
}

// loadedFont is a bundled font installed into pdfcpu's user font registry
type loadedFont struct {
	name   string // PostScript name, as registered with pdfcpu
	source string
	face   *sfnt.Font
}

// covers reports whether the font has a glyph for every non-space rune of text
func (f *loadedFont) covers(text string) bool {
	var buf sfnt.Buffer
	for _, r := range text {
		if r == ' ' || r == '\t' {
			continue
		}
		idx, err := f.face.GlyphIndex(&buf, r)
		if err != nil || idx == 0 {
			return false
		}
	}
	return true
}

// installMu serializes writes to pdfcpu's process-wide font registry
var installMu sync.Mutex

// FontResolver chooses the font for a label. It is built once at startup and is read-only
// afterwards, so concurrent stamping needs no locking.
type FontResolver struct {
	fonts    []*loadedFont
	failures []error
	logger   *zap.Logger
}

// NewFontResolver loads every source in order and installs the usable ones into cacheDir.
// Sources that fail are remembered as degradations, not returned as errors.
func NewFontResolver(sources []FontSource, cacheDir string, logger *zap.Logger) (*FontResolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &FontResolver{logger: logger}
	if len(sources) == 0 {
		return r, nil
	}

	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("create font cache dir %s: %w", cacheDir, err)
	}

	installMu.Lock()
	defer installMu.Unlock()

	font.UserFontDir = cacheDir
	for _, src := range sources {
		lf, err := install(src, cacheDir)
		if err != nil {
			logger.Warn("font source unavailable", zap.String("source", src.Name()), zap.Error(err))
			r.failures = append(r.failures, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		logger.Debug("font source installed", zap.String("source", src.Name()), zap.String("font", lf.name))
		r.fonts = append(r.fonts, lf)
	}

	if err := font.LoadUserFonts(); err != nil {
		logger.Warn("loading installed fonts failed", zap.Error(err))
		r.failures = append(r.failures, err)
		r.fonts = nil
		return r, nil
	}

	usable := r.fonts[:0]
	for _, lf := range r.fonts {
		if !font.IsUserFont(lf.name) {
			r.failures = append(r.failures, fmt.Errorf("%s: font %q not registered after install", lf.source, lf.name))
			continue
		}
		usable = append(usable, lf)
	}
	r.fonts = usable
	return r, nil
}

func install(src FontSource, cacheDir string) (*loadedFont, error) {
	data, err := src.Load()
	if err != nil {
		return nil, err
	}
	face, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	name, err := face.Name(nil, sfnt.NameIDPostScript)
	if err != nil || name == "" {
		return nil, fmt.Errorf("font has no PostScript name: %w", err)
	}

	path := filepath.Join(cacheDir, name+".ttf")
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return nil, fmt.Errorf("stage font: %w", err)
	}
	if err := api.InstallFonts([]string{path}); err != nil {
		return nil, fmt.Errorf("install font: %w", err)
	}
	return &loadedFont{name: name, source: src.Name(), face: face}, nil
}

// Fonts returns the names of the installed bundled fonts in preference order
func (r *FontResolver) Fonts() []string {
	names := make([]string, len(r.fonts))
	for i, f := range r.fonts {
		names[i] = f.name
	}
	return names
}

// Candidates returns the ordered fonts to try for text, plus degradations met while choosing.
// The list always ends with BuiltinFont and then "" (draw with no explicit font).
func (r *FontResolver) Candidates(text string) ([]string, []error) {
	var warnings []error
	var first string

	switch {
	case len(r.fonts) == 0:
		warnings = append(warnings, document.NewFontDegradedError(
			"no bundled font loaded, falling back to "+BuiltinFont, errors.Join(r.failures...)))
	default:
		for _, f := range r.fonts {
			if f.covers(text) {
				first = f.name
				break
			}
		}
		if first == "" {
			first = r.fonts[0].name
			warnings = append(warnings, document.NewFontDegradedError(
				fmt.Sprintf("no bundled font covers the label, using %s", first), nil))
		}
	}

	candidates := make([]string, 0, 3)
	if first != "" {
		candidates = append(candidates, first)
	}
	return append(candidates, BuiltinFont, ""), warnings
}

// TextWidth measures text in points. An empty font name measures with BuiltinFont.
func TextWidth(text, fontName string, size int) float64 {
	if fontName == "" {
		fontName = BuiltinFont
	}
	return font.TextWidth(text, fontName, size)
}

// TextHeight is the line height pdfcpu lays a single text line out in: font ascent plus
// descent. Fonts without metrics fall back to the point size.
func TextHeight(fontName string, size int) float64 {
	if fontName == "" {
		fontName = BuiltinFont
	}
	if !font.IsCoreFont(fontName) && !font.IsUserFont(fontName) {
		return float64(size)
	}
	h := font.LineHeight(fontName, size)
	if math.IsNaN(h) || h <= 0 {
		return float64(size)
	}
	return h
}
