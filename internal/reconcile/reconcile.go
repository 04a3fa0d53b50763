package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/metrics"
	"github.com/scmmishra/tally/internal/models"
)

// Drift is a date whose summary count disagrees with its visit log rows.
// Logged below Summary is expected when best-effort log writes failed.
type Drift struct {
	Date    string `json:"date"`
	Summary int64  `json:"summary"`
	Logged  int64  `json:"logged"`
}

type Config struct {
	Days         int
	Location     *time.Location
	QueryTimeout time.Duration
	Now          func() time.Time
}

// Reconciler compares DailySummary rows with the event log. It only reports;
// counts are never rewritten.
type Reconciler struct {
	db      *db.DB
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     Config
	cron    *cron.Cron
}

func New(d *db.DB, m *metrics.Metrics, log *slog.Logger, cfg Config) *Reconciler {
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: d, metrics: m, log: log, cfg: cfg}
}

// Run checks the trailing Days dates, today included, and returns the drifts
// oldest first.
func (r *Reconciler) Run(ctx context.Context) ([]Drift, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	since := r.cfg.Now().In(r.cfg.Location).AddDate(0, 0, -(r.cfg.Days - 1)).Format("2006-01-02")

	summaries, err := models.DailyCountsSince(ctx, r.db, since)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	logged, err := models.LogCountsSince(ctx, r.db, since)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	var drifts []Drift
	seen := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		seen[s.Date] = true
		if n := logged[s.Date]; n != s.Count {
			drifts = append(drifts, Drift{Date: s.Date, Summary: s.Count, Logged: n})
		}
	}
	for date, n := range logged {
		if !seen[date] {
			drifts = append(drifts, Drift{Date: date, Logged: n})
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].Date < drifts[j].Date })

	for _, d := range drifts {
		r.log.Warn("summary drift", "date", d.Date, "summary", d.Summary, "logged", d.Logged)
	}
	r.metrics.SummaryDriftDays.Set(float64(len(drifts)))
	return drifts, nil
}

// Start runs the check on a cron schedule until Stop.
func (r *Reconciler) Start(schedule string) error {
	c := cron.New(cron.WithLocation(r.cfg.Location))
	_, err := c.AddFunc(schedule, func() {
		drifts, err := r.Run(context.Background())
		if err != nil {
			r.log.Error("reconcile failed", "error", err)
			return
		}
		r.log.Info("reconcile completed", "days", r.cfg.Days, "drifts", len(drifts))
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop waits for a running check to finish.
func (r *Reconciler) Stop() {
	if r == nil || r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
