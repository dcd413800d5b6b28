package stats

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedInput matches every *InputError.
var ErrMalformedInput = errors.New("malformed input")

// InputError reports a text field that could not be parsed.
type InputError struct {
	Field string
	Value string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

func (e *InputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// RequestFields carries raw, unparsed front-end input. Source picks the
// authoritative significance field when both Alpha and Confidence are filled in.
type RequestFields struct {
	Alpha      string
	Confidence string
	N          string
	Tail       string
	Source     string
}

// Request is a validated calculation request.
type Request struct {
	Significance Significance
	SampleSize   int
	Tail         TailType
}

// Compute runs CriticalR for the request.
func (r Request) Compute() (Result, error) {
	return CriticalR(r.Significance.Alpha(), r.SampleSize, r.Tail)
}

// ParseRequest validates raw fields. It stops at the first problem.
func ParseRequest(f RequestFields) (Request, error) {
	sig, err := parseSignificance(f)
	if err != nil {
		return Request{}, err
	}

	n, err := parseInt("sample size", f.N)
	if err != nil {
		return Request{}, err
	}
	if n < MinSampleSize {
		return Request{}, fmt.Errorf("%w: got n=%d", ErrInsufficientSampleSize, n)
	}

	tail, err := ParseTailType(f.Tail)
	if err != nil {
		return Request{}, err
	}

	return Request{Significance: sig, SampleSize: n, Tail: tail}, nil
}

func parseSignificance(f RequestFields) (Significance, error) {
	alphaText := strings.TrimSpace(f.Alpha)
	confText := strings.TrimSpace(f.Confidence)

	source := Source(strings.ToLower(strings.TrimSpace(f.Source)))
	switch source {
	case SourceAlpha, SourceConfidence:
	case "":
		switch {
		case alphaText != "" && confText != "":
			return Significance{}, &InputError{Field: "source", Value: "", Err: errors.New("both alpha and confidence given; name the source")}
		case confText != "":
			source = SourceConfidence
		default:
			source = SourceAlpha
		}
	default:
		return Significance{}, &InputError{Field: "source", Value: f.Source, Err: errors.New("expected alpha or confidence")}
	}

	if source == SourceConfidence {
		c, err := parseFloat("confidence", confText)
		if err != nil {
			return Significance{}, err
		}
		return FromConfidence(c)
	}

	a, err := parseFloat("alpha", alphaText)
	if err != nil {
		return Significance{}, err
	}
	return FromAlpha(a)
}

func parseFloat(field, s string) (float64, error) {
	if s == "" {
		return 0, &InputError{Field: field, Value: s, Err: errors.New("value required")}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &InputError{Field: field, Value: s, Err: err}
	}
	return v, nil
}

func parseInt(field, s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &InputError{Field: field, Value: s, Err: errors.New("value required")}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &InputError{Field: field, Value: s, Err: err}
	}
	return v, nil
}
