package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/db"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/logging"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

// NumberText keeps a numeric field exactly as sent, whether as a JSON number
// or a string, so that stats.ParseRequest judges the text itself.
type NumberText string

func (n *NumberText) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = NumberText(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = NumberText(num)
	return nil
}

// RequestJSON is one line of batch input. Exactly one of Alpha and Confidence
// should be set; Source disambiguates when both are.
type RequestJSON struct {
	Alpha      NumberText `json:"alpha,omitempty"`
	Confidence NumberText `json:"confidence,omitempty"`
	N          NumberText `json:"n"`
	Tail       string     `json:"tail,omitempty"`
	Source     string     `json:"source,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Fields converts the request to the raw form accepted by stats.ParseRequest.
func (r RequestJSON) Fields() stats.RequestFields {
	return stats.RequestFields{
		Alpha:      string(r.Alpha),
		Confidence: string(r.Confidence),
		N:          string(r.N),
		Tail:       r.Tail,
		Source:     r.Source,
	}
}

// Outcome is the result of one batch line. Err is set when the line was valid
// JSON but the calculation was rejected; such lines are not recorded.
type Outcome struct {
	Line    int
	Request RequestJSON
	Result  stats.Result
	ID      int64
	Err     error
}

// Record stores a computed result. The significance supplies the source field
// and the derived confidence.
func Record(database *db.DB, res stats.Result, sig stats.Significance, notes string) (int64, error) {
	confidence, err := stats.AlphaToConfidence(res.Alpha)
	if err != nil {
		return 0, err
	}
	source := string(sig.Source())
	if source == "" {
		source = string(stats.SourceAlpha)
	}

	id, err := database.InsertCalculation(&db.Calculation{
		Alpha:      res.Alpha,
		Confidence: confidence,
		SampleSize: res.SampleSize,
		Tail:       res.Tail.String(),
		DF:         res.DF,
		TCritical:  res.TCritical,
		RCritical:  res.RCritical,
		Source:     source,
		Notes:      notes,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, fmt.Errorf("insert calculation: %w", err)
	}
	return id, nil
}

// Batch reads JSON-lines requests, computes each and, when database is non-nil,
// records the successful ones. Blank and non-object lines are skipped. A line
// that is not valid JSON aborts the batch and removes everything it recorded.
func Batch(database *db.DB, reader io.Reader, notes string) ([]Outcome, error) {
	log := logging.Named("record")

	var recorded []int64
	cleanup := func() {
		for _, id := range recorded {
			_ = database.DeleteCalculation(id)
		}
	}

	var outcomes []Outcome

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || trimmed[0] != '{' {
			continue
		}

		var req RequestJSON
		if err := json.Unmarshal([]byte(trimmed), &req); err != nil {
			cleanup()
			return nil, fmt.Errorf("parse request JSON on line %d: %w", lineNum, err)
		}

		out := Outcome{Line: lineNum, Request: req}
		parsed, err := stats.ParseRequest(req.Fields())
		if err == nil {
			out.Result, err = parsed.Compute()
		}
		if err != nil {
			out.Err = err
			log.Debug("batch line rejected", zap.Int("line", lineNum), zap.Error(err))
			outcomes = append(outcomes, out)
			continue
		}

		if database != nil {
			lineNotes := req.Notes
			if lineNotes == "" {
				lineNotes = notes
			}
			id, err := Record(database, out.Result, parsed.Significance, lineNotes)
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("record line %d: %w", lineNum, err)
			}
			out.ID = id
			recorded = append(recorded, id)
		}
		outcomes = append(outcomes, out)
	}

	if err := scanner.Err(); err != nil {
		cleanup()
		return nil, fmt.Errorf("read requests: %w", err)
	}

	log.Info("batch processed", zap.Int("lines", lineNum), zap.Int("requests", len(outcomes)), zap.Int("recorded", len(recorded)))
	return outcomes, nil
}
