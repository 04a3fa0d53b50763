package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scmmishra/tally/internal/cache"
	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/metrics"
	"github.com/scmmishra/tally/internal/models"
)

const (
	MinWindowDays     = 1
	MaxWindowDays     = 365
	DefaultWindowDays = 30

	recentActivityDays = 7
	statsTopCountries  = 5
)

// Diagnostics lists which sub-metrics were computed and which degraded to
// their zero value.
type Diagnostics struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

type Stats struct {
	TodayViews       int64                 `json:"todayViews"`
	LifetimeViews    int64                 `json:"lifetimeViews"`
	VisitDate        string                `json:"visitDate"`
	TopCountries     []models.CountryCount `json:"topCountries"`
	TopCountry       string                `json:"topCountry"`
	TotalCountries   int64                 `json:"totalCountries"`
	RecentActivity   []models.DayCount     `json:"recentActivity"`
	AvgSessionTime   string                `json:"avgSessionTime"`
	EnhancedTracking bool                  `json:"enhanced_tracking"`
	Debug            Diagnostics           `json:"debug"`
}

type Analytics struct {
	PeriodDays        int                   `json:"period_days"`
	EnhancedTracking  bool                  `json:"enhanced_tracking"`
	TotalViews        int64                 `json:"total_views"`
	UniqueVisitors    int64                 `json:"unique_visitors"`
	NewVisitors       int64                 `json:"new_visitors"`
	ReturningVisitors int64                 `json:"returning_visitors"`
	PopularPages      []models.PageCount    `json:"popular_pages"`
	TopCountries      []models.CountryCount `json:"top_countries"`
	TrafficSources    map[string]int64      `json:"traffic_sources"`
	Browsers          map[string]int64      `json:"browsers"`
	Devices           map[string]int64      `json:"devices"`
	DailyTrend        []models.DayCount     `json:"daily_trend"`
	AvgSessionTime    string                `json:"avg_session_time"`
	Debug             Diagnostics           `json:"debug"`
}

type AggregatorConfig struct {
	Location          *time.Location
	QueryTimeout      time.Duration
	AggregateTimeout  time.Duration
	SessionWindowDays int
	NewVisitorDays    int
	TopN              int
	Now               func() time.Time
}

// Aggregator derives dashboard metrics. Every sub-metric is computed
// independently; a failing one is reported in Debug and left at its zero
// value.
type Aggregator struct {
	db      *db.DB
	cache   cache.Store
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     AggregatorConfig
}

// NewAggregator builds an Aggregator. store may be nil to disable caching of
// ComputeAnalytics results.
func NewAggregator(d *db.DB, store cache.Store, m *metrics.Metrics, log *slog.Logger, cfg AggregatorConfig) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = 15 * time.Second
	}
	if cfg.SessionWindowDays <= 0 {
		cfg.SessionWindowDays = 7
	}
	if cfg.NewVisitorDays <= 0 {
		cfg.NewVisitorDays = 30
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{db: d, cache: store, metrics: m, log: log, cfg: cfg}
}

// ClampDays bounds a requested window to [MinWindowDays, MaxWindowDays].
func ClampDays(days int) int {
	if days < MinWindowDays {
		return MinWindowDays
	}
	if days > MaxWindowDays {
		return MaxWindowDays
	}
	return days
}

func (a *Aggregator) today() time.Time {
	now := a.cfg.Now().In(a.cfg.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.cfg.Location)
}

// windowStart is the first date of a window of days ending today.
func windowStart(today time.Time, days int) string {
	return today.AddDate(0, 0, -(days - 1)).Format(DateLayout)
}

// fillDays returns one entry per date from start for days days, taking counts
// from sparse and zero elsewhere.
func fillDays(start time.Time, days int, sparse []models.DayCount) []models.DayCount {
	byDate := make(map[string]int64, len(sparse))
	for _, dc := range sparse {
		byDate[dc.Date] = dc.Count
	}
	out := make([]models.DayCount, days)
	for i := range out {
		date := start.AddDate(0, 0, i).Format(DateLayout)
		out[i] = models.DayCount{Date: date, Count: byDate[date]}
	}
	return out
}

type tracker struct {
	mu sync.Mutex
	d  Diagnostics
}

func (t *tracker) done(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.d.Failed = append(t.d.Failed, name)
		return
	}
	t.d.Succeeded = append(t.d.Succeeded, name)
}

func (t *tracker) result() Diagnostics {
	sort.Strings(t.d.Succeeded)
	sort.Strings(t.d.Failed)
	if t.d.Succeeded == nil {
		t.d.Succeeded = []string{}
	}
	if t.d.Failed == nil {
		t.d.Failed = []string{}
	}
	return t.d
}

// metric runs fn on the group with its own timeout. Failures are recorded,
// never returned, so one metric cannot cancel the others.
func (a *Aggregator) metric(ctx context.Context, g *errgroup.Group, tr *tracker, name string, fn func(ctx context.Context) error) {
	g.Go(func() error {
		qctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
		defer cancel()
		err := fn(qctx)
		if err != nil {
			a.metrics.AggregateFailures.WithLabelValues(name).Inc()
			a.log.Warn("analytics metric failed", "metric", name, "error", err)
		}
		tr.done(name, err)
		return nil
	})
}

// ComputeStats returns the headline dashboard numbers. It is never cached so a
// visit is visible immediately after it was recorded.
func (a *Aggregator) ComputeStats(ctx context.Context) Stats {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AggregateTimeout)
	defer cancel()

	today := a.today()
	todayStr := today.Format(DateLayout)
	recentStart := today.AddDate(0, 0, -(recentActivityDays - 1))
	sessionSince := windowStart(today, a.cfg.SessionWindowDays)

	st := Stats{
		VisitDate:      todayStr,
		TopCountries:   []models.CountryCount{},
		TopCountry:     Unknown,
		RecentActivity: fillDays(recentStart, recentActivityDays, nil),
		AvgSessionTime: FormatDuration(0),
	}

	var (
		g  errgroup.Group
		tr tracker
	)
	a.metric(ctx, &g, &tr, "today_views", func(ctx context.Context) (err error) {
		st.TodayViews, err = models.DailyCount(ctx, a.db, todayStr)
		return err
	})
	a.metric(ctx, &g, &tr, "lifetime_views", func(ctx context.Context) (err error) {
		st.LifetimeViews, err = models.LifetimeTotal(ctx, a.db)
		return err
	})
	a.metric(ctx, &g, &tr, "top_countries", func(ctx context.Context) error {
		top, err := models.TopCountriesSince(ctx, a.db, "", statsTopCountries)
		if err != nil {
			return err
		}
		if len(top) > 0 {
			st.TopCountries = top
		}
		return nil
	})
	a.metric(ctx, &g, &tr, "total_countries", func(ctx context.Context) (err error) {
		st.TotalCountries, err = models.DistinctCountriesSince(ctx, a.db, "")
		return err
	})
	a.metric(ctx, &g, &tr, "recent_activity", func(ctx context.Context) error {
		counts, err := models.DailyCountsSince(ctx, a.db, recentStart.Format(DateLayout))
		if err != nil {
			return err
		}
		st.RecentActivity = fillDays(recentStart, recentActivityDays, counts)
		return nil
	})
	a.metric(ctx, &g, &tr, "avg_session_time", func(ctx context.Context) error {
		avg, err := models.AvgSessionSince(ctx, a.db, sessionSince)
		if err != nil {
			return err
		}
		st.AvgSessionTime = FormatAverage(avg)
		return nil
	})
	a.metric(ctx, &g, &tr, "enhanced_tracking", func(ctx context.Context) (err error) {
		st.EnhancedTracking, err = models.TableReady(ctx, a.db, "visit_logs")
		return err
	})
	_ = g.Wait()

	if len(st.TopCountries) > 0 {
		st.TopCountry = st.TopCountries[0].Country
	}
	st.Debug = tr.result()
	return st
}

// ComputeAnalytics returns the detailed breakdown for the window of days
// ending today. days is clamped to [MinWindowDays, MaxWindowDays].
func (a *Aggregator) ComputeAnalytics(ctx context.Context, days int) Analytics {
	days = ClampDays(days)
	today := a.today()
	key := fmt.Sprintf("analytics:%d:%s", days, today.Format(DateLayout))

	if a.cache != nil {
		if raw, ok := a.cache.Get(ctx, key); ok {
			var cached Analytics
			if err := json.Unmarshal(raw, &cached); err == nil {
				a.metrics.CacheRequests.WithLabelValues("hit").Inc()
				return cached
			}
		}
		a.metrics.CacheRequests.WithLabelValues("miss").Inc()
	}

	res := a.computeAnalytics(ctx, today, days)

	// degraded results are not cached so the next request retries
	if a.cache != nil && len(res.Debug.Failed) == 0 {
		if raw, err := json.Marshal(res); err == nil {
			a.cache.Set(ctx, key, raw)
		}
	}
	return res
}

func (a *Aggregator) computeAnalytics(ctx context.Context, today time.Time, days int) Analytics {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AggregateTimeout)
	defer cancel()

	start := today.AddDate(0, 0, -(days - 1))
	since := start.Format(DateLayout)
	sessionSince := windowStart(today, a.cfg.SessionWindowDays)
	newCutoff := today.AddDate(0, 0, -a.cfg.NewVisitorDays).Format(DateLayout)

	res := Analytics{
		PeriodDays:     days,
		PopularPages:   []models.PageCount{},
		TopCountries:   []models.CountryCount{},
		TrafficSources: map[string]int64{},
		Browsers:       map[string]int64{},
		Devices:        map[string]int64{},
		DailyTrend:     fillDays(start, days, nil),
		AvgSessionTime: FormatDuration(0),
	}

	var (
		g  errgroup.Group
		tr tracker
	)
	a.metric(ctx, &g, &tr, "enhanced_tracking", func(ctx context.Context) (err error) {
		res.EnhancedTracking, err = models.TableReady(ctx, a.db, "visit_logs")
		return err
	})
	a.metric(ctx, &g, &tr, "total_views", func(ctx context.Context) (err error) {
		res.TotalViews, err = models.TotalViewsSince(ctx, a.db, since)
		return err
	})
	a.metric(ctx, &g, &tr, "unique_visitors", func(ctx context.Context) (err error) {
		res.UniqueVisitors, err = models.UniqueVisitorsSince(ctx, a.db, since)
		return err
	})
	a.metric(ctx, &g, &tr, "visitor_types", func(ctx context.Context) error {
		activity, err := models.VisitorActivitySince(ctx, a.db, since)
		if err != nil {
			return err
		}
		res.NewVisitors, res.ReturningVisitors = classifyVisitors(activity, newCutoff)
		return nil
	})
	a.metric(ctx, &g, &tr, "popular_pages", func(ctx context.Context) error {
		pages, err := models.TopPagesSince(ctx, a.db, since, a.cfg.TopN)
		if err != nil {
			return err
		}
		if len(pages) > 0 {
			res.PopularPages = pages
		}
		return nil
	})
	a.metric(ctx, &g, &tr, "top_countries", func(ctx context.Context) error {
		top, err := models.TopCountriesSince(ctx, a.db, since, a.cfg.TopN)
		if err != nil {
			return err
		}
		if len(top) > 0 {
			res.TopCountries = top
		}
		return nil
	})
	a.metric(ctx, &g, &tr, "traffic_sources", func(ctx context.Context) error {
		counts, err := models.ReferrerCountsSince(ctx, a.db, since)
		if err != nil {
			return err
		}
		res.TrafficSources = bucket(counts, ClassifyReferrer)
		return nil
	})
	a.metric(ctx, &g, &tr, "browsers", func(ctx context.Context) error {
		counts, err := models.UserAgentCountsSince(ctx, a.db, since)
		if err != nil {
			return err
		}
		res.Browsers = bucket(counts, ClassifyBrowser)
		return nil
	})
	a.metric(ctx, &g, &tr, "devices", func(ctx context.Context) error {
		counts, err := models.DeviceCountsSince(ctx, a.db, since)
		if err != nil {
			return err
		}
		res.Devices = bucket(counts, func(v string) string { return v })
		return nil
	})
	a.metric(ctx, &g, &tr, "daily_trend", func(ctx context.Context) error {
		counts, err := models.DailyCountsSince(ctx, a.db, since)
		if err != nil {
			return err
		}
		res.DailyTrend = fillDays(start, days, counts)
		return nil
	})
	a.metric(ctx, &g, &tr, "avg_session_time", func(ctx context.Context) error {
		avg, err := models.AvgSessionSince(ctx, a.db, sessionSince)
		if err != nil {
			return err
		}
		res.AvgSessionTime = FormatAverage(avg)
		return nil
	})
	_ = g.Wait()

	res.Debug = tr.result()
	return res
}

// classifyVisitors applies two independent predicates, so one IP can count
// as both new and returning.
func classifyVisitors(activity []models.VisitorActivity, newCutoff string) (newVisitors, returning int64) {
	for _, va := range activity {
		if va.FirstSeen >= newCutoff {
			newVisitors++
		}
		if va.Visits > 1 || va.FirstSeen < newCutoff {
			returning++
		}
	}
	return newVisitors, returning
}

func bucket(counts []models.ValueCount, classify func(string) string) map[string]int64 {
	out := make(map[string]int64)
	for _, vc := range counts {
		out[classify(vc.Value)] += vc.Count
	}
	return out
}

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// History returns raw summary rows for the window of days ending today,
// newest first. limit is bounded to [1, MaxHistoryLimit].
func (a *Aggregator) History(ctx context.Context, days, limit int) ([]models.DailySummary, error) {
	days = ClampDays(days)
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	qctx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()
	rows, err := models.ListDailySummaries(qctx, a.db, windowStart(a.today(), days), limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.DailySummary{}
	}
	return rows, nil
}
