package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/scmmishra/tally/internal/analytics"
	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/models"
)

const maxRecordBody = 64 << 10

type VisitHandler struct {
	DB         *db.DB
	Extractor  *analytics.Extractor
	Recorder   *analytics.Recorder
	Aggregator *analytics.Aggregator
	Log        *slog.Logger
}

type recordRequest struct {
	PageURL          string  `json:"page_url"`
	SessionDuration  float64 `json:"session_duration"`
	IsFinal          bool    `json:"is_final"`
	ScreenResolution string  `json:"screen_resolution"`
	ViewportSize     string  `json:"viewport_size"`
	Timezone         string  `json:"timezone"`
}

type recordResponse struct {
	DailyViews    int64     `json:"dailyViews"`
	LifetimeViews int64     `json:"lifetimeViews"`
	VisitDate     string    `json:"visitDate"`
	Country       string    `json:"country"`
	City          string    `json:"city"`
	Timestamp     time.Time `json:"timestamp"`
}

func (h *VisitHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	body := http.MaxBytesReader(w, r.Body, maxRecordBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	cc := h.Extractor.FromRequest(r)
	res, err := h.Recorder.Record(r.Context(), cc, analytics.RecordInput{
		PagePath:         req.PageURL,
		SessionDuration:  int(math.Min(req.SessionDuration, math.MaxInt32)),
		IsFinal:          req.IsFinal,
		ScreenResolution: req.ScreenResolution,
		ViewportSize:     req.ViewportSize,
		Timezone:         req.Timezone,
	})
	if err != nil {
		h.logger().Error("record visit", "ip", cc.IP, "error", err)
		jsonError(w, "failed to record visit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, recordResponse{
		DailyViews:    res.DailyCount,
		LifetimeViews: res.LifetimeCount,
		VisitDate:     res.VisitDate,
		Country:       cc.Country,
		City:          cc.City,
		Timestamp:     res.Timestamp.UTC(),
	})
}

func (h *VisitHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Aggregator.ComputeStats(r.Context()))
}

func (h *VisitHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", analytics.DefaultWindowDays)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.Aggregator.ComputeAnalytics(r.Context(), days))
}

type historyResponse struct {
	Days    int                   `json:"days"`
	Limit   int                   `json:"limit"`
	History []models.DailySummary `json:"history"`
}

func (h *VisitHandler) History(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days", analytics.DefaultWindowDays)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", analytics.DefaultHistoryLimit)
	if !ok {
		return
	}
	days = analytics.ClampDays(days)
	limit = min(max(limit, 1), analytics.MaxHistoryLimit)

	rows, err := h.Aggregator.History(r.Context(), days, limit)
	if err != nil {
		h.logger().Error("history", "error", err)
		jsonError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Days: days, Limit: limit, History: rows})
}

// Health verifies the database answers and both tables exist.
func (h *VisitHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.DB.PingContext(ctx); err != nil {
		h.logger().Error("health: ping", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": "database unreachable"})
		return
	}

	tables := map[string]bool{}
	for _, table := range []string{"visits", "visit_logs"} {
		ready, err := models.TableReady(ctx, h.DB, table)
		if err != nil {
			h.logger().Error("health: schema", "table", table, "error", err)
		}
		tables[table] = ready
	}
	if !tables["visits"] || !tables["visit_logs"] {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "error": "schema missing", "tables": tables})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "database": h.DB.Dialect.String(), "tables": tables})
}

func (h *VisitHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// intParam reads an optional integer query parameter. On a malformed value it
// writes a 400 and returns false.
func intParam(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		fieldError(w, name+" must be an integer", name)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func fieldError(w http.ResponseWriter, msg, field string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg, "field": field})
}
