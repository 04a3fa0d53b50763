package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/metrics"
	"github.com/scmmishra/tally/internal/models"
)

// DateLayout is the canonical calendar date format used for visit_date.
const DateLayout = "2006-01-02"

// ErrSummaryUnavailable means the daily summary could neither be incremented
// nor read back.
var ErrSummaryUnavailable = errors.New("daily summary unavailable")

// RecordInput holds every caller-supplied field of a visit. Zero values are
// replaced by defaults in Normalize.
type RecordInput struct {
	PagePath         string
	SessionDuration  int
	IsFinal          bool
	ScreenResolution string
	ViewportSize     string
	Timezone         string
}

// Normalize applies defaults and bounds: page path "/" when empty, the path
// component only for absolute URLs, durations never negative.
func (in RecordInput) Normalize(maxLen int) RecordInput {
	in.PagePath = strings.TrimSpace(in.PagePath)
	if u, err := url.Parse(in.PagePath); err == nil && u.IsAbs() {
		in.PagePath = u.EscapedPath()
	}
	if in.PagePath == "" {
		in.PagePath = "/"
	}
	in.PagePath = Truncate(in.PagePath, maxLen)
	if in.SessionDuration < 0 {
		in.SessionDuration = 0
	}
	in.ScreenResolution = Truncate(strings.TrimSpace(in.ScreenResolution), 50)
	in.ViewportSize = Truncate(strings.TrimSpace(in.ViewportSize), 50)
	in.Timezone = Truncate(strings.TrimSpace(in.Timezone), 100)
	return in
}

type RecordResult struct {
	DailyCount    int64
	LifetimeCount int64
	VisitDate     string
	Timestamp     time.Time
	// Degraded is set when the counts were read back after a failed increment.
	Degraded bool
	// Skipped is set when the visit was identified as a bot and not counted.
	Skipped bool
}

// AddressList reports whether an address belongs to known automated traffic.
type AddressList interface {
	Contains(ip string) bool
}

type RecorderConfig struct {
	Location     *time.Location
	QueryTimeout time.Duration
	MaxFieldLen  int
	IgnoreBots   bool
	// Blocklist is consulted only when IgnoreBots is set.
	Blocklist AddressList
	Now       func() time.Time
}

// Recorder counts visits. The daily summary increment is atomic; the detailed
// log row is best-effort.
type Recorder struct {
	db      *db.DB
	sink    EventSink
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     RecorderConfig
}

func NewRecorder(d *db.DB, sink EventSink, m *metrics.Metrics, log *slog.Logger, cfg RecorderConfig) *Recorder {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = SyncSink{DB: d}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{db: d, sink: sink, metrics: m, log: log, cfg: cfg}
}

func (r *Recorder) isAutomated(cc ClientContext) bool {
	if IsBot(cc.UserAgent) {
		return true
	}
	return r.cfg.Blocklist != nil && r.cfg.Blocklist.Contains(cc.IP)
}

func (r *Recorder) Record(ctx context.Context, cc ClientContext, in RecordInput) (RecordResult, error) {
	now := r.cfg.Now()
	date := now.In(r.cfg.Location).Format(DateLayout)
	in = in.Normalize(r.cfg.MaxFieldLen)
	res := RecordResult{VisitDate: date, Timestamp: now}

	if r.cfg.IgnoreBots && r.isAutomated(cc) {
		daily, lifetime, err := r.readCounts(ctx, date)
		if err != nil {
			return res, r.fail(err)
		}
		res.DailyCount, res.LifetimeCount, res.Skipped = daily, lifetime, true
		return res, nil
	}

	event := r.buildEvent(cc, in, date, now)

	var (
		g         errgroup.Group
		daily     int64
		upsertErr error
	)
	g.Go(func() error {
		wctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
		defer cancel()
		if err := r.sink.Write(wctx, event); err != nil {
			r.metrics.VisitLogFailures.Inc()
			r.log.Warn("visit log write failed", "date", date, "ip", cc.IP, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		uctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
		defer cancel()
		daily, upsertErr = models.UpsertDailySummary(uctx, r.db, date, cc.IP, cc.UserAgent, now)
		return nil
	})
	_ = g.Wait()

	if upsertErr != nil {
		r.metrics.SummaryUpsertFailures.Inc()
		r.log.Error("daily summary upsert failed", "date", date, "error", upsertErr)

		d, lifetime, err := r.readCounts(ctx, date)
		if err != nil {
			return res, r.fail(fmt.Errorf("%v; read back: %w", upsertErr, err))
		}
		res.DailyCount, res.LifetimeCount, res.Degraded = d, lifetime, true
		return res, nil
	}

	r.metrics.VisitsRecorded.Inc()
	res.DailyCount = daily

	lctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()
	lifetime, err := models.LifetimeTotal(lctx, r.db)
	if err != nil {
		// today's count is a lower bound for the lifetime total
		r.log.Warn("lifetime total unavailable", "error", err)
		lifetime = daily
		res.Degraded = true
	}
	res.LifetimeCount = lifetime
	return res, nil
}

func (r *Recorder) readCounts(ctx context.Context, date string) (daily, lifetime int64, err error) {
	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	if daily, err = models.DailyCount(qctx, r.db, date); err != nil {
		return 0, 0, err
	}
	if lifetime, err = models.LifetimeTotal(qctx, r.db); err != nil {
		return 0, 0, err
	}
	return daily, lifetime, nil
}

func (r *Recorder) fail(err error) error {
	r.metrics.RecordFailures.Inc()
	r.log.Error("record failed", "error", err)
	return fmt.Errorf("%w: %v", ErrSummaryUnavailable, err)
}

func (r *Recorder) buildEvent(cc ClientContext, in RecordInput, date string, now time.Time) models.VisitEvent {
	os, device := DescribeDevice(cc.UserAgent)

	tz := cc.Timezone
	if in.Timezone != "" {
		tz = in.Timezone
	}
	if tz == "" {
		tz = DefaultTimezone
	}

	return models.VisitEvent{
		IP:               cc.IP,
		Country:          orUnknown(cc.Country),
		City:             orUnknown(cc.City),
		Region:           orUnknown(cc.Region),
		Latitude:         cc.Latitude,
		Longitude:        cc.Longitude,
		Timezone:         tz,
		UserAgent:        Truncate(cc.UserAgent, r.cfg.MaxFieldLen),
		Referrer:         orDirect(Truncate(cc.Referrer, r.cfg.MaxFieldLen)),
		PageURL:          in.PagePath,
		VisitDate:        date,
		SessionDuration:  in.SessionDuration,
		ScreenResolution: in.ScreenResolution,
		ViewportSize:     in.ViewportSize,
		OS:               os,
		DeviceType:       device,
		IsFinal:          in.IsFinal,
		CreatedAt:        now,
	}
}

func orDirect(s string) string {
	if s == "" {
		return DirectReferrer
	}
	return s
}
