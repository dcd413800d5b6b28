package stats

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// AlphaPrecision is the number of decimal places alpha is rounded to when it is
// derived from a confidence percentage.
const AlphaPrecision = 6

// ConfidencePrecision is the number of decimal places of a confidence percentage
// derived from alpha.
const ConfidencePrecision = 4

// Errors returned by significance conversion.
var (
	ErrInvalidConfidence = errors.New("confidence level must be between 0 and 100")
	ErrInvalidAlpha      = errors.New("significance level must be between 0 and 1")
)

var (
	hundred   = decimal.NewFromInt(100)
	alphaStep = decimal.New(1, -AlphaPrecision)
)

// ConfidenceToAlpha converts a confidence percentage to a significance level,
// rounded to AlphaPrecision decimal places. 95 yields exactly 0.05.
func ConfidenceToAlpha(confidence float64) (float64, error) {
	if !validConfidence(confidence) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidConfidence, confidence)
	}
	alpha := decimal.NewFromInt(1).
		Sub(decimal.NewFromFloat(confidence).Div(hundred)).
		Round(AlphaPrecision)
	// Confidence within half a step of 0 or 100 would round alpha onto the
	// boundary; keep it one step inside (0, 1).
	if alpha.LessThan(alphaStep) {
		alpha = alphaStep
	} else if maxAlpha := decimal.NewFromInt(1).Sub(alphaStep); alpha.GreaterThan(maxAlpha) {
		alpha = maxAlpha
	}
	f, _ := alpha.Float64()
	return f, nil
}

// AlphaToConfidence is the inverse display conversion of ConfidenceToAlpha.
func AlphaToConfidence(alpha float64) (float64, error) {
	if !validAlpha(alpha) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	confidence := decimal.NewFromInt(1).
		Sub(decimal.NewFromFloat(alpha)).
		Mul(hundred).
		Round(ConfidencePrecision)
	f, _ := confidence.Float64()
	return f, nil
}

func validConfidence(c float64) bool {
	return c > 0 && c < 100 && !math.IsInf(c, 0)
}

func validAlpha(a float64) bool {
	return a > 0 && a < 1
}

// Source names which representation of the significance level is authoritative.
type Source string

const (
	SourceAlpha      Source = "alpha"
	SourceConfidence Source = "confidence"
)

// Significance holds one authoritative significance value. The other
// representation is always derived from it and never stored independently.
type Significance struct {
	source Source
	value  float64
}

// FromConfidence makes the confidence percentage authoritative.
func FromConfidence(confidence float64) (Significance, error) {
	if _, err := ConfidenceToAlpha(confidence); err != nil {
		return Significance{}, err
	}
	return Significance{source: SourceConfidence, value: confidence}, nil
}

// FromAlpha makes alpha authoritative.
func FromAlpha(alpha float64) (Significance, error) {
	if !validAlpha(alpha) {
		return Significance{}, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}
	return Significance{source: SourceAlpha, value: alpha}, nil
}

// Source reports which field drives the other.
func (s Significance) Source() Source {
	return s.source
}

// Alpha returns the significance level, deriving it when confidence is the source.
func (s Significance) Alpha() float64 {
	if s.source == SourceConfidence {
		a, _ := ConfidenceToAlpha(s.value)
		return a
	}
	return s.value
}

// Confidence returns the confidence percentage, deriving it when alpha is the source.
func (s Significance) Confidence() float64 {
	if s.source == SourceAlpha {
		c, _ := AlphaToConfidence(s.value)
		return c
	}
	return s.value
}

// IsZero reports whether s was never set.
func (s Significance) IsZero() bool {
	return s.source == ""
}
