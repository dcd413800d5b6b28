package plot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func mustResult(t *testing.T, alpha float64, n int, tail stats.TailType) stats.Result {
	t.Helper()
	res, err := stats.CriticalR(alpha, n, tail)
	require.NoError(t, err)
	return res
}

func seriesNames(ch chart.Chart) []string {
	var names []string
	for _, s := range ch.Series {
		names = append(names, s.GetName())
	}
	return names
}

func TestChartSeries(t *testing.T) {
	t.Run("two-tailed has both regions and markers", func(t *testing.T) {
		ch := Chart(mustResult(t, 0.05, 14, stats.TwoTailed), Options{})
		assert.Equal(t, []string{
			"t-distribution",
			"Right critical region (α/2 = 0.025)",
			"Left critical region (α/2 = 0.025)",
			"+t_critical = 2.179",
			"-t_critical = -2.179",
		}, seriesNames(ch))
	})

	t.Run("one-tailed shades the right side only", func(t *testing.T) {
		ch := Chart(mustResult(t, 0.05, 14, stats.OneTailed), Options{})
		assert.Equal(t, []string{
			"t-distribution",
			"Critical region (α = 0.05)",
			"t_critical = 1.782",
		}, seriesNames(ch))
	})

	t.Run("critical value beyond the widest span is not drawn", func(t *testing.T) {
		res := mustResult(t, 0.001, 3, stats.TwoTailed)
		require.Greater(t, res.TCritical, maxSpan)
		ch := Chart(res, Options{})
		assert.Equal(t, []string{"t-distribution"}, seriesNames(ch))
	})
}

func TestSpan(t *testing.T) {
	assert.Equal(t, 5.0, Span(mustResult(t, 0.05, 14, stats.TwoTailed)))
	// df=1, two-tailed 0.05 gives t≈12.706
	assert.Equal(t, 14.0, Span(mustResult(t, 0.05, 3, stats.TwoTailed)))
	assert.Equal(t, maxSpan, Span(mustResult(t, 0.001, 3, stats.TwoTailed)))
}

func TestRender(t *testing.T) {
	res := mustResult(t, 0.05, 14, stats.TwoTailed)

	t.Run("png", func(t *testing.T) {
		data, err := Bytes(res, Options{Format: PNG, Width: 400, Height: 300})
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "expected PNG signature")
	})

	t.Run("svg", func(t *testing.T) {
		data, err := Bytes(res, Options{Format: SVG, Width: 400, Height: 300})
		require.NoError(t, err)
		assert.Contains(t, string(data), "<svg")
		assert.Contains(t, string(data), "t-Distribution with Critical Region")
	})
}

func TestSaveFile(t *testing.T) {
	res := mustResult(t, 0.05, 14, stats.OneTailed)
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "plots", "r.png")
	require.NoError(t, SaveFile(pngPath, res, Options{Width: 300, Height: 200}))
	data, err := os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))

	svgPath := filepath.Join(dir, "r.svg")
	require.NoError(t, SaveFile(svgPath, res, Options{Width: 300, Height: 200}))
	data, err = os.ReadFile(svgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")

	err = SaveFile(filepath.Join(dir, "r.gif"), res, Options{})
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": PNG, "png": PNG, ".PNG": PNG, "svg": SVG, ".svg": SVG} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("jpeg")
	assert.Error(t, err)
	assert.Equal(t, "image/svg+xml", SVG.ContentType())
	assert.Equal(t, "image/png", PNG.ContentType())
}
