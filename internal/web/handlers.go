package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jentimanatol/CriticalRValueConfidence/internal/db"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/plot"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/record"
	"github.com/jentimanatol/CriticalRValueConfidence/internal/stats"
)

const maxPlotPixels = 4000

type resultResponse struct {
	RCritical  float64  `json:"r_critical"`
	TCritical  float64  `json:"t_critical"`
	TLower     float64  `json:"t_lower"`
	DF         int      `json:"df"`
	Alpha      float64  `json:"alpha"`
	Confidence float64  `json:"confidence"`
	N          int      `json:"n"`
	Tail       string   `json:"tail"`
	Source     string   `json:"source,omitempty"`
	Observed   *float64 `json:"observed_r,omitempty"`
	Rejects    *bool    `json:"rejects_null,omitempty"`
}

func newResultResponse(res stats.Result, source stats.Source) resultResponse {
	lower, _ := res.TBounds()
	confidence, _ := stats.AlphaToConfidence(res.Alpha)
	return resultResponse{
		RCritical:  res.RCritical,
		TCritical:  res.TCritical,
		TLower:     lower,
		DF:         res.DF,
		Alpha:      res.Alpha,
		Confidence: confidence,
		N:          res.SampleSize,
		Tail:       res.Tail.String(),
		Source:     string(source),
	}
}

type calculationResponse struct {
	ID         int64   `json:"id"`
	Alpha      float64 `json:"alpha"`
	Confidence float64 `json:"confidence"`
	N          int     `json:"n"`
	Tail       string  `json:"tail"`
	DF         int     `json:"df"`
	TCritical  float64 `json:"t_critical"`
	RCritical  float64 `json:"r_critical"`
	Source     string  `json:"source"`
	Notes      string  `json:"notes,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func newCalculationResponse(c db.Calculation) calculationResponse {
	return calculationResponse{
		ID:         c.ID,
		Alpha:      c.Alpha,
		Confidence: c.Confidence,
		N:          c.SampleSize,
		Tail:       c.Tail,
		DF:         c.DF,
		TCritical:  c.TCritical,
		RCritical:  c.RCritical,
		Source:     c.Source,
		Notes:      c.Notes,
		CreatedAt:  c.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// isInputError reports whether err comes from rejected user input.
func isInputError(err error) bool {
	return errors.Is(err, stats.ErrMalformedInput) ||
		errors.Is(err, stats.ErrInvalidConfidence) ||
		errors.Is(err, stats.ErrInvalidAlpha) ||
		errors.Is(err, stats.ErrInsufficientSampleSize) ||
		errors.Is(err, stats.ErrTableRange)
}

func (s *Server) writeComputeError(w http.ResponseWriter, err error) {
	if isInputError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Error("calculation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func fieldsFromQuery(r *http.Request) stats.RequestFields {
	q := r.URL.Query()
	return stats.RequestFields{
		Alpha:      q.Get("alpha"),
		Confidence: q.Get("confidence"),
		N:          q.Get("n"),
		Tail:       q.Get("tail"),
		Source:     q.Get("source"),
	}
}

func (s *Server) computeFromQuery(r *http.Request) (stats.Request, stats.Result, error) {
	req, err := stats.ParseRequest(fieldsFromQuery(r))
	if err != nil {
		return stats.Request{}, stats.Result{}, err
	}
	res, err := req.Compute()
	if err != nil {
		return stats.Request{}, stats.Result{}, err
	}
	return req, res, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":  "ok",
		"history": s.db != nil,
		"cache":   s.plotCache != nil,
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAlpha(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("confidence"))
	confidence, err := strconv.ParseFloat(text, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, (&stats.InputError{Field: "confidence", Value: text, Err: err}).Error())
		return
	}
	alpha, err := stats.ConfidenceToAlpha(confidence)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"confidence": confidence, "alpha": alpha})
}

func (s *Server) handleCritical(w http.ResponseWriter, r *http.Request) {
	req, res, err := s.computeFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}

	resp := newResultResponse(res, req.Significance.Source())
	if text := r.URL.Query().Get("r"); text != "" {
		observed, err := strconv.ParseFloat(text, 64)
		if err != nil || observed < -1 || observed > 1 {
			writeError(w, http.StatusBadRequest, "observed r must be a number in [-1, 1]")
			return
		}
		rejects := res.Rejects(observed)
		resp.Observed = &observed
		resp.Rejects = &rejects
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := fieldsFromQuery(r)
	fields.N = strconv.Itoa(stats.MinSampleSize)
	if q.Get("alpha") == "" && q.Get("confidence") == "" {
		fields.Alpha = "0.05"
	}
	req, err := stats.ParseRequest(fields)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}

	from, to := stats.MinSampleSize, 30
	if v := q.Get("from"); v != "" {
		if from, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
	}
	rows, err := stats.CriticalTable(req.Significance.Alpha(), req.Tail, from, to)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}

	resp := make([]resultResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, newResultResponse(row, ""))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	_, res, err := s.computeFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}

	q := r.URL.Query()
	format, err := plot.ParseFormat(q.Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := plot.Options{Format: format}
	for name, dst := range map[string]*int{"width": &opts.Width, "height": &opts.Height} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPlotPixels {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}

	if err := s.acquireRenderSlot(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "render queue busy")
		return
	}
	defer s.releaseRenderSlot()

	var data []byte
	hit := false
	if s.plotCache != nil {
		data, hit, err = s.plotCache.GetOrRender(res, opts)
	} else {
		data, err = plot.Bytes(res, opts)
	}
	if err != nil {
		s.log.Error("render plot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if q.Get("download") != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="critical-region.`+string(format)+`"`)
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, _ = w.Write(data)
}

func (s *Server) acquireRenderSlot(ctx context.Context) error {
	if s.renderSem == nil {
		return nil
	}
	select {
	case s.renderSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) releaseRenderSlot() {
	if s.renderSem == nil {
		return
	}
	select {
	case <-s.renderSem:
	default:
	}
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history is disabled")
		return false
	}
	return true
}

func calculationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calculation id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleListCalculations(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	filter := db.ListFilter{Limit: 50}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if t := r.URL.Query().Get("tail"); t != "" {
		tail, err := stats.ParseTailType(t)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Tail = tail.String()
	}
	filter.Since = r.URL.Query().Get("since")

	calcs, err := s.db.ListCalculations(filter)
	if err != nil {
		s.log.Error("list calculations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]calculationResponse, 0, len(calcs))
	for _, c := range calcs {
		resp = append(resp, newCalculationResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateCalculation(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}

	var body record.RequestJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req, err := stats.ParseRequest(body.Fields())
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	res, err := req.Compute()
	if err != nil {
		s.writeComputeError(w, err)
		return
	}

	id, err := record.Record(s.db, res, req.Significance, body.Notes)
	if err != nil {
		s.log.Error("record calculation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	c, err := s.db.GetCalculation(id)
	if err != nil {
		s.log.Error("read back calculation", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, newCalculationResponse(*c))
}

func (s *Server) handleGetCalculation(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	id, ok := calculationID(w, r)
	if !ok {
		return
	}

	c, err := s.db.GetCalculation(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "calculation not found")
			return
		}
		s.log.Error("get calculation", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newCalculationResponse(*c))
}

func (s *Server) handleDeleteCalculation(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	id, ok := calculationID(w, r)
	if !ok {
		return
	}

	if err := s.db.DeleteCalculation(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "calculation not found")
			return
		}
		s.log.Error("delete calculation", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
