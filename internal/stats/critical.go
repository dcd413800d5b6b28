package stats

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// MinSampleSize is the smallest sample size with at least one degree of freedom.
const MinSampleSize = 3

// ErrInsufficientSampleSize is returned when n - 2 <= 0.
var ErrInsufficientSampleSize = errors.New("sample size must be at least 3")

// TailType selects whether alpha is spent on one side of the distribution or split
// across both.
type TailType string

const (
	OneTailed TailType = "1-tailed"
	TwoTailed TailType = "2-tailed"
)

// ParseTailType accepts "1-tailed", "one", "1" and their two-tailed equivalents.
// An empty string means two-tailed.
func ParseTailType(s string) (TailType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "2-tailed", "2", "two", "two-tailed", "2tailed":
		return TwoTailed, nil
	case "1-tailed", "1", "one", "one-tailed", "1tailed":
		return OneTailed, nil
	}
	return "", &InputError{Field: "tail", Value: s, Err: errors.New("expected 1-tailed or 2-tailed")}
}

func (t TailType) String() string {
	return string(t)
}

// Result is the outcome of a single critical-value computation.
type Result struct {
	RCritical  float64  `json:"r_critical"`
	TCritical  float64  `json:"t_critical"`
	DF         int      `json:"df"`
	Alpha      float64  `json:"alpha"`
	SampleSize int      `json:"n"`
	Tail       TailType `json:"tail"`
}

// TBounds returns the negative and positive critical t values.
func (r Result) TBounds() (lower, upper float64) {
	return -r.TCritical, r.TCritical
}

// Rejects reports whether an observed correlation lies in the rejection region.
// One-tailed tests reject on the upper side only.
func (r Result) Rejects(observed float64) bool {
	if r.Tail == OneTailed {
		return observed >= r.RCritical
	}
	return math.Abs(observed) >= r.RCritical
}

// CriticalR computes the critical t and r values for a correlation test with n
// observations at significance level alpha.
func CriticalR(alpha float64, n int, tail TailType) (Result, error) {
	if n < MinSampleSize {
		return Result{}, fmt.Errorf("%w: got n=%d", ErrInsufficientSampleSize, n)
	}
	df := n - 2
	if !validAlpha(alpha) {
		return Result{}, fmt.Errorf("%w: got %v", ErrInvalidAlpha, alpha)
	}

	p := 1 - alpha/2
	if tail == OneTailed {
		p = 1 - alpha
	} else {
		tail = TwoTailed
	}

	t := TQuantile(p, df)
	r := t / math.Sqrt(t*t+float64(df))

	return Result{
		RCritical:  r,
		TCritical:  t,
		DF:         df,
		Alpha:      alpha,
		SampleSize: n,
		Tail:       tail,
	}, nil
}

// MaxTableRows bounds the number of rows CriticalTable produces.
const MaxTableRows = 1000

// ErrTableRange is returned for an empty or oversized table range.
var ErrTableRange = errors.New("invalid table range")

// CriticalTable computes CriticalR for every sample size in [fromN, toN].
func CriticalTable(alpha float64, tail TailType, fromN, toN int) ([]Result, error) {
	if fromN < MinSampleSize {
		return nil, fmt.Errorf("%w: got n=%d", ErrInsufficientSampleSize, fromN)
	}
	if toN < fromN {
		return nil, fmt.Errorf("%w: %d..%d is empty", ErrTableRange, fromN, toN)
	}
	// fromN >= 3, so toN-fromN cannot overflow.
	if toN-fromN >= MaxTableRows {
		return nil, fmt.Errorf("%w: %d..%d exceeds %d rows", ErrTableRange, fromN, toN, MaxTableRows)
	}

	rows := make([]Result, 0, toN-fromN+1)
	for n := fromN; n <= toN; n++ {
		res, err := CriticalR(alpha, n, tail)
		if err != nil {
			return nil, err
		}
		rows = append(rows, res)
	}
	return rows, nil
}

func studentsT(df int) distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
}

// TQuantile is the inverse CDF of the standard t distribution with df degrees of freedom.
func TQuantile(p float64, df int) float64 {
	return studentsT(df).Quantile(p)
}

// TDensity is the probability density of the standard t distribution.
func TDensity(x float64, df int) float64 {
	return studentsT(df).Prob(x)
}
