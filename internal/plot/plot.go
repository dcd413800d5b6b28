// Package plot renders the Student t density with the rejection region of a
// critical-value result.
package plot

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
)

// ParseFormat accepts png or svg, case-insensitively. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "png":
		return PNG, nil
	case "svg":
		return SVG, nil
	}
	return "", fmt.Errorf("unsupported plot format %q", s)
}

func (f Format) ContentType() string {
	if f == SVG {
		return "image/svg+xml"
	}
	return "image/png"
}

const (
	defaultSpan = 5.0
	maxSpan     = 40.0
	curvePoints = 1000
	fillPoints  = 500
)

var (
	regionRight = drawing.Color{R: 220, G: 40, B: 40, A: 255}
	regionLeft  = drawing.Color{R: 40, G: 80, B: 220, A: 255}
)

type Options struct {
	Format Format
	Width  int
	Height int
}

// WithDefaults fills in PNG and 900x600 for unset fields.
func (o Options) WithDefaults() Options {
	if o.Format == "" {
		o.Format = PNG
	}
	if o.Width <= 0 {
		o.Width = 900
	}
	if o.Height <= 0 {
		o.Height = 600
	}
	return o
}

// Span returns the half-width of the x range for a result: 5, widened to show
// the critical value when it lies beyond, but never past 40.
func Span(res stats.Result) float64 {
	span := defaultSpan
	if t := math.Abs(res.TCritical); t+1 > span {
		span = math.Ceil(t + 1)
	}
	return math.Min(span, maxSpan)
}

// Chart builds the chart for a result without rendering it.
func Chart(res stats.Result, opts Options) chart.Chart {
	opts = opts.WithDefaults()
	span := Span(res)

	xs, ys := density(res.DF, -span, span, curvePoints)
	peak := 0.0
	for _, y := range ys {
		peak = math.Max(peak, y)
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "t-distribution",
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				StrokeWidth: 2,
			},
		},
	}

	lower, upper := res.TBounds()
	if res.Tail == stats.OneTailed {
		series = append(series, region(res.DF, upper, span, fmt.Sprintf("Critical region (α = %s)", trimFloat(res.Alpha)), regionRight)...)
		series = append(series, marker(res.DF, upper, span, fmt.Sprintf("t_critical = %.3f", upper), regionRight)...)
	} else {
		half := trimFloat(res.Alpha / 2)
		series = append(series, region(res.DF, upper, span, fmt.Sprintf("Right critical region (α/2 = %s)", half), regionRight)...)
		series = append(series, region(res.DF, -span, lower, fmt.Sprintf("Left critical region (α/2 = %s)", half), regionLeft)...)
		series = append(series, marker(res.DF, upper, span, fmt.Sprintf("+t_critical = %.3f", upper), regionRight)...)
		series = append(series, marker(res.DF, lower, span, fmt.Sprintf("-t_critical = %.3f", lower), regionLeft)...)
	}

	ch := chart.Chart{
		Title:      "t-Distribution with Critical Region",
		TitleStyle: chart.Style{FontSize: 16},
		Width:      opts.Width,
		Height:     opts.Height,
		Background: chart.Style{Padding: chart.Box{Top: 48, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:  "t-value",
			Range: &chart.ContinuousRange{Min: -span, Max: span},
		},
		YAxis: chart.YAxis{
			Name:  "Probability Density",
			Range: &chart.ContinuousRange{Min: 0, Max: peak * 1.1},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch
}

// Render writes the plot in the requested format.
func Render(w io.Writer, res stats.Result, opts Options) error {
	opts = opts.WithDefaults()
	ch := Chart(res, opts)

	provider := chart.PNG
	if opts.Format == SVG {
		provider = chart.SVG
	}
	if err := ch.Render(provider, w); err != nil {
		return fmt.Errorf("render %s plot: %w", opts.Format, err)
	}
	return nil
}

// Bytes renders into memory.
func Bytes(res stats.Result, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, res, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveFile renders to path. The format follows the file extension unless
// opts.Format is set; files without an extension get PNG.
func SaveFile(path string, res stats.Result, opts Options) error {
	if opts.Format == "" {
		f, err := ParseFormat(filepath.Ext(path))
		if err != nil {
			return err
		}
		opts.Format = f
	}

	data, err := Bytes(res, opts)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func density(df int, from, to float64, points int) ([]float64, []float64) {
	xs := make([]float64, points)
	ys := make([]float64, points)
	step := (to - from) / float64(points-1)
	for i := range xs {
		x := from + float64(i)*step
		xs[i] = x
		ys[i] = stats.TDensity(x, df)
	}
	return xs, ys
}

// region shades the density between from and to. A region entirely outside the
// visible range yields nothing.
func region(df int, from, to float64, name string, col drawing.Color) []chart.Series {
	if to-from <= 0 {
		return nil
	}
	xs, ys := density(df, from, to, fillPoints)
	return []chart.Series{
		chart.ContinuousSeries{
			Name:    name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: col,
				StrokeWidth: 1,
				FillColor:   col.WithAlpha(128),
			},
		},
	}
}

func marker(df int, x, span float64, name string, col drawing.Color) []chart.Series {
	if math.Abs(x) > span {
		return nil
	}
	return []chart.Series{chart.ContinuousSeries{
		Name:    name,
		XValues: []float64{x, x},
		YValues: []float64{0, stats.TDensity(x, df)},
		Style: chart.Style{
			StrokeColor:     col,
			StrokeWidth:     2,
			StrokeDashArray: []float64{6, 4},
		},
	}}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
