package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

func execute(t *testing.T, dbFile string, input string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	prevOut, prevIn := stdout, stdin
	stdout, stdin = &out, strings.NewReader(input)
	t.Cleanup(func() { stdout, stdin = prevOut, prevIn })

	cmd := rootCmd()
	cmd.SetArgs(append(args, "--db", dbFile))
	err := cmd.Execute()
	return out.String(), err
}

func TestCalcDefaults(t *testing.T) {
	out, err := execute(t, filepath.Join(t.TempDir(), "h.db"), "", "calc")
	require.NoError(t, err)
	assert.Contains(t, out, "Critical r-value (±): 0.532")
	assert.Contains(t, out, "df = 12")
	assert.Contains(t, out, "α = 0.05")
	assert.Contains(t, out, "t_critical = 2.1788")
	assert.Contains(t, out, "r_critical = ± 0.5324 (2-tailed)")
}

func TestCalcJSON(t *testing.T) {
	out, err := execute(t, filepath.Join(t.TempDir(), "h.db"), "",
		"calc", "--alpha", "0.05", "-n", "14", "--tail", "1-tailed", "--json")
	require.NoError(t, err)

	var got resultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, stats.OneTailed, got.Tail)
	assert.InDelta(t, 0.4575, got.RCritical, 1e-4)
	assert.Equal(t, 95.0, got.Confidence)
	assert.Equal(t, "alpha", got.Source)
}

func TestCalcDecision(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")

	out, err := execute(t, dbFile, "", "calc", "-n", "14", "--r", "0.6")
	require.NoError(t, err)
	assert.Contains(t, out, "reject H0")

	out, err = execute(t, dbFile, "", "calc", "-n", "14", "--r", "0.3")
	require.NoError(t, err)
	assert.Contains(t, out, "cannot reject H0")

	_, err = execute(t, dbFile, "", "calc", "-n", "14", "--r", "1.5")
	assert.ErrorIs(t, err, stats.ErrMalformedInput)
}

func TestCalcRejectsBadInput(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")

	_, err := execute(t, dbFile, "", "calc", "-n", "2")
	assert.ErrorIs(t, err, stats.ErrInsufficientSampleSize)

	_, err = execute(t, dbFile, "", "calc", "--confidence", "abc")
	assert.ErrorIs(t, err, stats.ErrMalformedInput)

	_, err = execute(t, dbFile, "", "calc", "--alpha", "1.5")
	assert.ErrorIs(t, err, stats.ErrInvalidAlpha)
}

func TestAlphaCommand(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")

	out, err := execute(t, dbFile, "", "alpha", "95")
	require.NoError(t, err)
	assert.Equal(t, "0.05\n", out)

	out, err = execute(t, dbFile, "", "alpha", "99.9")
	require.NoError(t, err)
	assert.Equal(t, "0.001\n", out)

	_, err = execute(t, dbFile, "", "alpha", "0")
	assert.ErrorIs(t, err, stats.ErrInvalidConfidence)
}

func TestTableCommand(t *testing.T) {
	out, err := execute(t, filepath.Join(t.TempDir(), "h.db"), "", "table", "--from", "3", "--to", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "α = 0.05, 2-tailed")
	assert.Contains(t, out, "0.9969")
	assert.Contains(t, out, "0.8783")
}

func TestPlotCommand(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "region.svg")

	out, err := execute(t, filepath.Join(dir, "h.db"), "", "plot", "-n", "14", "-o", target, "--width", "300", "--height", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "Critical r-value (±): 0.532")
	assert.FileExists(t, target)
	assert.Contains(t, out, "Plot saved to "+target)

	_, err = execute(t, filepath.Join(dir, "h.db"), "", "plot", "-n", "14")
	assert.Error(t, err)
}

func TestBatchAndHistory(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")
	input := strings.Join([]string{
		`{"confidence": 95, "n": 14}`,
		`# comment`,
		`{"alpha": 0.01, "n": 30, "tail": "1-tailed", "notes": "pilot"}`,
		`{"alpha": 0.05, "n": 2}`,
	}, "\n")

	out, err := execute(t, dbFile, input, "batch", "--record")
	require.NoError(t, err)
	assert.Contains(t, out, "3 requests, 1 rejected")
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "#2")

	out, err = execute(t, dbFile, "", "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "pilot")
	assert.Contains(t, out, "batch")

	out, err = execute(t, dbFile, "", "history", "list", "--tail", "one")
	require.NoError(t, err)
	assert.Contains(t, out, "pilot")
	assert.NotContains(t, out, "batch")

	out, err = execute(t, dbFile, "", "history", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Calculation #1")
	assert.Contains(t, out, "r_critical = ± 0.5324 (2-tailed)")

	out, err = execute(t, dbFile, "", "history", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted calculation #1")
	_, err = execute(t, dbFile, "", "history", "show", "1")
	assert.Error(t, err)

	_, err = execute(t, dbFile, "", "history", "delete")
	assert.Error(t, err)
}

func TestBatchJSONWithoutRecording(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")

	out, err := execute(t, dbFile, `{"confidence": 99, "n": 10}`+"\n"+`{"n": 10}`, "batch", "--json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"line":1`)
	assert.Contains(t, lines[0], `"r_critical"`)
	assert.NotContains(t, lines[0], `"id"`)
	assert.Contains(t, lines[1], `"error"`)

	_, err = execute(t, dbFile, "{bad json", "batch")
	assert.Error(t, err)
}

func TestCalcRecord(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")

	out, err := execute(t, dbFile, "", "calc", "--confidence", "99", "-n", "10", "--record", "--notes", "lab")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded calculation #1")

	out, err = execute(t, dbFile, "", "history", "delete", "--before", "2999-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 calculations before 2999-01-01")
}

func TestTableRangeIsBounded(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "h.db")

	for _, to := range []string{"9223372036854775807", "1003"} {
		_, err := execute(t, dbFile, "", "table", "--to", to)
		assert.ErrorIs(t, err, stats.ErrTableRange, to)
	}

	out, err := execute(t, dbFile, "", "table", "--to", "1002")
	require.NoError(t, err)
	assert.Contains(t, out, "  1002 ")
}
