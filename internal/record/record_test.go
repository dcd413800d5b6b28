package record

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/db"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestRecord(t *testing.T) {
	database := openTestDB(t)

	sig, err := stats.FromConfidence(95)
	require.NoError(t, err)
	res, err := stats.CriticalR(sig.Alpha(), 14, stats.TwoTailed)
	require.NoError(t, err)

	id, err := Record(database, res, sig, "lab 3")
	require.NoError(t, err)

	got, err := database.GetCalculation(id)
	require.NoError(t, err)
	assert.Equal(t, 0.05, got.Alpha)
	assert.Equal(t, 95.0, got.Confidence)
	assert.Equal(t, "confidence", got.Source)
	assert.Equal(t, "2-tailed", got.Tail)
	assert.Equal(t, 12, got.DF)
	assert.Equal(t, "lab 3", got.Notes)
}

const batchInput = `
{"confidence": 95, "n": 14, "tail": "2-tailed"}
not json, skipped
{"alpha": 0.05, "n": 14, "tail": "1-tailed", "notes": "one-sided"}
{"alpha": 0.05, "n": 2}

{"confidence": 150, "n": 10}
`

func TestBatchRecords(t *testing.T) {
	database := openTestDB(t)

	outcomes, err := Batch(database, strings.NewReader(batchInput), "batch")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, 2, outcomes[0].Line)
	assert.InDelta(t, 0.532, outcomes[0].Result.RCritical, 1e-3)
	assert.Positive(t, outcomes[0].ID)

	assert.NoError(t, outcomes[1].Err)
	assert.InDelta(t, 0.458, outcomes[1].Result.RCritical, 1e-3)

	assert.True(t, errors.Is(outcomes[2].Err, stats.ErrInsufficientSampleSize))
	assert.Zero(t, outcomes[2].ID)
	assert.True(t, errors.Is(outcomes[3].Err, stats.ErrInvalidConfidence))

	calcs, err := database.ListCalculations(db.ListFilter{})
	require.NoError(t, err)
	require.Len(t, calcs, 2)
	notes := []string{calcs[0].Notes, calcs[1].Notes}
	assert.ElementsMatch(t, []string{"batch", "one-sided"}, notes)
}

func TestBatchWithoutDatabase(t *testing.T) {
	outcomes, err := Batch(nil, strings.NewReader(`{"alpha": 0.01, "n": 30}`), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Zero(t, outcomes[0].ID)
	assert.Equal(t, stats.TwoTailed, outcomes[0].Result.Tail)
}

func TestBatchBadJSONRollsBack(t *testing.T) {
	database := openTestDB(t)

	input := `{"alpha": 0.05, "n": 14}
{"alpha": 0.05, "n": }`
	_, err := Batch(database, strings.NewReader(input), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	count, err := database.CountCalculations()
	require.NoError(t, err)
	assert.Zero(t, count, "rows recorded before the failure must be removed")
}

func TestBatchNumericText(t *testing.T) {
	input := `{"confidence": "95", "n": "14"}
{"confidence": "95", "n": "14abc"}
{"alpha": "0.05x", "n": 14}
{"alpha": 1e-2, "n": 30, "tail": "one"}`

	outcomes, err := Batch(nil, strings.NewReader(input), "")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, 12, outcomes[0].Result.DF)

	for _, o := range outcomes[1:3] {
		var inputErr *stats.InputError
		require.True(t, errors.As(o.Err, &inputErr), "line %d: %v", o.Line, o.Err)
	}
	assert.Equal(t, "sample size", errField(outcomes[1].Err))
	assert.Equal(t, "alpha", errField(outcomes[2].Err))

	assert.NoError(t, outcomes[3].Err)
	assert.Equal(t, 0.01, outcomes[3].Result.Alpha)
}

func TestBatchRejectsNonNumericJSON(t *testing.T) {
	_, err := Batch(nil, strings.NewReader(`{"alpha": true, "n": 14}`), "")
	assert.Error(t, err)
}

func errField(err error) string {
	var inputErr *stats.InputError
	if errors.As(err, &inputErr) {
		return inputErr.Field
	}
	return ""
}
