package layout

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// ErrMeasure is returned by oracles that cannot size a piece of content.
var ErrMeasure = errors.New("unable to measure content")

// Oracle reports the rendered height of serialized block markup laid out
// at the given width with the active typography.
type Oracle interface {
	Measure(content string, width float64) (float64, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(content string, width float64) (float64, error)

func (f OracleFunc) Measure(content string, width float64) (float64, error) {
	return f(content, width)
}

const (
	DefaultMinFragmentLines    = 2.0
	DefaultOrphanMergeAttempts = 3
)

// Settings is the typography and viewport a pagination run is computed for.
// Any change invalidates a Result.
type Settings struct {
	PageWidth  float64
	PageHeight float64
	FontSize   float64
	LineHeight float64
	Theme      string
	// trailing text fragments shorter than this many lines are merged back
	MinFragmentLines    float64
	OrphanMergeAttempts int
}

// DefaultSettings returns settings for a page of the given size with one
// unit line height and the default orphan control.
func DefaultSettings(width, height float64) Settings {
	return Settings{
		PageWidth:           width,
		PageHeight:          height,
		FontSize:            1,
		LineHeight:          1,
		MinFragmentLines:    DefaultMinFragmentLines,
		OrphanMergeAttempts: DefaultOrphanMergeAttempts,
	}
}

// Validate checks that settings describe a usable page.
func (s Settings) Validate() error {
	if s.PageHeight <= 0 || math.IsNaN(s.PageHeight) || math.IsInf(s.PageHeight, 0) {
		return fmt.Errorf("page height must be positive, got %v", s.PageHeight)
	}
	if s.PageWidth <= 0 {
		return fmt.Errorf("page width must be positive, got %v", s.PageWidth)
	}
	if s.LineHeight <= 0 {
		return fmt.Errorf("line height must be positive, got %v", s.LineHeight)
	}
	if s.MinFragmentLines < 0 || s.OrphanMergeAttempts < 0 {
		return errors.New("orphan control settings must not be negative")
	}
	return nil
}

func (s Settings) minFragment() float64 {
	return s.MinFragmentLines * s.LineHeight
}

// measurer wraps the oracle, absorbing failures as a full page height.
type measurer struct {
	oracle Oracle
	s      Settings
	log    *zap.Logger
}

func (m *measurer) measure(content string) (float64, bool) {
	h, err := m.oracle.Measure(content, m.s.PageWidth)
	if err == nil && (h < 0 || math.IsNaN(h) || math.IsInf(h, 0)) {
		err = fmt.Errorf("%w: height %v", ErrMeasure, h)
	}
	if err != nil {
		m.log.Debug("Unable to measure block, assuming full page", zap.Int("bytes", len(content)), zap.Error(err))
		return m.s.PageHeight, false
	}
	return h, true
}
