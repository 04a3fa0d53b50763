package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scmmishra/tally/internal/cache"
	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/geo"
	"github.com/scmmishra/tally/internal/metrics"
	"github.com/scmmishra/tally/internal/models"
)

func newTestAggregator(d *db.DB, store cache.Store, m *metrics.Metrics, now func() time.Time) *Aggregator {
	return NewAggregator(d, store, m, nil, AggregatorConfig{
		QueryTimeout:      time.Second,
		AggregateTimeout:  5 * time.Second,
		SessionWindowDays: 7,
		NewVisitorDays:    30,
		TopN:              10,
		Now:               now,
	})
}

func clock(t time.Time) func() time.Time { return func() time.Time { return t } }

func record(t *testing.T, r *Recorder, cc ClientContext, in RecordInput) RecordResult {
	t.Helper()
	res, err := r.Record(context.Background(), cc, in)
	require.NoError(t, err)
	return res
}

func TestScenario_ThreeVisitsTwoVisitors(t *testing.T) {
	d := testDB(t)
	r := newTestRecorder(d, nil)
	agg := newTestAggregator(d, nil, nil, clock(fixedNow))

	record(t, r, visitor("A"), RecordInput{SessionDuration: 0})
	record(t, r, visitor("A"), RecordInput{SessionDuration: 30})
	record(t, r, visitor("B"), RecordInput{SessionDuration: 90})

	st := agg.ComputeStats(context.Background())
	assert.Equal(t, int64(3), st.TodayViews)
	assert.Equal(t, int64(3), st.LifetimeViews)
	assert.Equal(t, "1m 0s", st.AvgSessionTime)
	assert.Empty(t, st.Debug.Failed)

	an := agg.ComputeAnalytics(context.Background(), 7)
	assert.Equal(t, int64(2), an.UniqueVisitors)
	assert.Equal(t, int64(3), an.TotalViews)
	assert.Equal(t, "1m 0s", an.AvgSessionTime)
	assert.Equal(t, map[string]int64{SourceDirect: 3}, an.TrafficSources)
	assert.Equal(t, map[string]int64{BrowserFirefox: 3}, an.Browsers)
	// both IPs were first seen today; A also has two visits
	assert.Equal(t, int64(2), an.NewVisitors)
	assert.Equal(t, int64(1), an.ReturningVisitors)
}

func TestComputeStats_ReadYourWrites(t *testing.T) {
	d := testDB(t)
	r := newTestRecorder(d, nil)
	agg := newTestAggregator(d, nil, nil, clock(fixedNow))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res := record(t, r, visitor("1.1.1.1"), RecordInput{})
		st := agg.ComputeStats(ctx)
		assert.Equal(t, res.DailyCount, st.TodayViews)
		assert.Equal(t, int64(i), st.TodayViews)
	}
}

func TestComputeStats_RecentActivityZeroFilled(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	_, err := models.UpsertDailySummary(ctx, d, "2024-01-13", "ip", "ua", fixedNow)
	require.NoError(t, err)
	_, err = models.UpsertDailySummary(ctx, d, "2024-01-01", "ip", "ua", fixedNow)
	require.NoError(t, err)

	st := newTestAggregator(d, nil, nil, clock(fixedNow)).ComputeStats(ctx)

	require.Len(t, st.RecentActivity, 7)
	assert.Equal(t, "2024-01-09", st.RecentActivity[0].Date)
	assert.Equal(t, "2024-01-15", st.RecentActivity[6].Date)
	assert.Equal(t, int64(1), st.RecentActivity[4].Count)
	assert.Equal(t, int64(0), st.RecentActivity[6].Count)
	assert.Equal(t, int64(2), st.LifetimeViews)
	assert.Equal(t, int64(0), st.TodayViews)
	assert.True(t, st.EnhancedTracking)
}

func TestScenario_GeoMissIsUnknown(t *testing.T) {
	d := testDB(t)
	r := newTestRecorder(d, nil)
	agg := newTestAggregator(d, nil, nil, clock(fixedNow))
	ctx := context.Background()

	ext := &Extractor{
		Geo:         stubGeo{"9.9.9.9": {Country: "Germany", City: "Berlin"}},
		MaxFieldLen: 500,
	}
	cc := ext.Extract(header("User-Agent", "Firefox"), "5.5.5.5:1000")
	record(t, r, cc, RecordInput{})

	var country string
	require.NoError(t, d.QueryRow(`SELECT country FROM visit_logs`).Scan(&country))
	assert.Equal(t, Unknown, country)

	st := agg.ComputeStats(ctx)
	assert.Empty(t, st.TopCountries)
	assert.Equal(t, Unknown, st.TopCountry)
	assert.Equal(t, int64(0), st.TotalCountries)

	record(t, r, ext.Extract(header(), "9.9.9.9:1000"), RecordInput{})
	record(t, r, cc, RecordInput{})

	st = agg.ComputeStats(ctx)
	require.Len(t, st.TopCountries, 1)
	assert.Equal(t, "Germany", st.TopCountry)
	assert.Equal(t, int64(1), st.TotalCountries)
}

func TestComputeAnalytics_ClampsDays(t *testing.T) {
	d := testDB(t)
	agg := newTestAggregator(d, nil, nil, clock(fixedNow))
	ctx := context.Background()

	low := agg.ComputeAnalytics(ctx, 0)
	assert.Equal(t, 1, low.PeriodDays)
	assert.Len(t, low.DailyTrend, 1)
	assert.Empty(t, low.Debug.Failed)

	high := agg.ComputeAnalytics(ctx, 9999)
	assert.Equal(t, 365, high.PeriodDays)
	assert.Len(t, high.DailyTrend, 365)
	assert.Equal(t, "2023-01-16", high.DailyTrend[0].Date)
	assert.Equal(t, "2024-01-15", high.DailyTrend[364].Date)
}

func TestClampDays(t *testing.T) {
	cases := map[int]int{-10: 1, 0: 1, 1: 1, 30: 30, 365: 365, 366: 365, 9999: 365}
	for in, want := range cases {
		if got := ClampDays(in); got != want {
			t.Errorf("ClampDays(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestComputeAnalytics_WindowAndBreakdowns(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	ev := func(ip, date, page, ref, ua, country, device string) models.VisitEvent {
		return models.VisitEvent{
			IP: ip, Country: country, City: Unknown, Region: Unknown, Timezone: "UTC",
			UserAgent: ua, Referrer: ref, PageURL: page, VisitDate: date,
			DeviceType: device, CreatedAt: fixedNow,
		}
	}
	const (
		chrome = "Mozilla/5.0 AppleWebKit/537.36 Chrome/120.0 Safari/537.36"
		safari = "Mozilla/5.0 AppleWebKit/605.1.15 Version/17.2 Safari/605.1.15"
	)
	require.NoError(t, models.BatchInsertVisitLogs(ctx, d, []models.VisitEvent{
		ev("old", "2023-10-01", "/", "direct", chrome, "France", "desktop"),
		ev("old", "2024-01-14", "/", "https://www.google.com/", chrome, "France", "desktop"),
		ev("new", "2024-01-15", "/docs", "https://twitter.com/x", safari, "Japan", "mobile"),
		ev("new", "2024-01-15", "/docs", "https://example.org/", safari, "Japan", "mobile"),
		ev("gone", "2024-01-01", "/", "direct", chrome, "Peru", "desktop"),
	}))
	for _, date := range []string{"2024-01-14", "2024-01-15", "2024-01-15"} {
		_, err := models.UpsertDailySummary(ctx, d, date, "ip", "ua", fixedNow)
		require.NoError(t, err)
	}

	an := newTestAggregator(d, nil, nil, clock(fixedNow)).ComputeAnalytics(ctx, 7)

	require.Empty(t, an.Debug.Failed)
	assert.True(t, an.EnhancedTracking)
	assert.Equal(t, int64(3), an.TotalViews)
	assert.Equal(t, int64(2), an.UniqueVisitors)
	// "old" predates the 30-day horizon; "new" has two visits
	assert.Equal(t, int64(1), an.NewVisitors)
	assert.Equal(t, int64(2), an.ReturningVisitors)
	assert.Equal(t, []models.PageCount{{Page: "/docs", Count: 2}, {Page: "/", Count: 1}}, an.PopularPages)
	assert.Equal(t, []models.CountryCount{{Country: "Japan", Count: 2}, {Country: "France", Count: 1}}, an.TopCountries)
	assert.Equal(t, map[string]int64{SourceGoogle: 1, SourceTwitter: 1, SourceOther: 1}, an.TrafficSources)
	assert.Equal(t, map[string]int64{BrowserChrome: 1, BrowserSafari: 2}, an.Browsers)
	assert.Equal(t, map[string]int64{"desktop": 1, "mobile": 2}, an.Devices)
	require.Len(t, an.DailyTrend, 7)
	assert.Equal(t, models.DayCount{Date: "2024-01-14", Count: 1}, an.DailyTrend[5])
	assert.Equal(t, models.DayCount{Date: "2024-01-15", Count: 2}, an.DailyTrend[6])
	assert.Equal(t, int64(0), an.DailyTrend[0].Count)
}

func TestComputeAnalytics_PartialFailure(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	m := metrics.New(nil)
	_, err := models.UpsertDailySummary(ctx, d, "2024-01-15", "ip", "ua", fixedNow)
	require.NoError(t, err)
	_, err = d.Exec(`DROP TABLE visit_logs`)
	require.NoError(t, err)

	an := newTestAggregator(d, nil, m, clock(fixedNow)).ComputeAnalytics(ctx, 30)

	assert.False(t, an.EnhancedTracking)
	assert.Equal(t, int64(1), an.TotalViews)
	assert.Equal(t, int64(1), an.DailyTrend[29].Count)
	assert.ElementsMatch(t, []string{"daily_trend", "enhanced_tracking", "total_views"}, an.Debug.Succeeded)
	assert.ElementsMatch(t, []string{
		"avg_session_time", "browsers", "devices", "popular_pages",
		"top_countries", "traffic_sources", "unique_visitors", "visitor_types",
	}, an.Debug.Failed)
	assert.Empty(t, an.PopularPages)
	assert.NotNil(t, an.Browsers)
	assert.Equal(t, "0m 0s", an.AvgSessionTime)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AggregateFailures.WithLabelValues("browsers")))
}

func TestComputeStats_StorageDown(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 7; i++ {
		mock.ExpectQuery(".*").WillReturnError(errors.New("connection refused"))
	}

	st := newTestAggregator(db.Wrap(conn, db.SQLite), nil, nil, clock(fixedNow)).ComputeStats(context.Background())

	assert.Len(t, st.Debug.Failed, 7)
	assert.Empty(t, st.Debug.Succeeded)
	assert.Equal(t, Unknown, st.TopCountry)
	assert.Len(t, st.RecentActivity, 7)
	assert.Equal(t, "2024-01-15", st.VisitDate)
}

func TestComputeAnalytics_CachedUntilExpiry(t *testing.T) {
	d := testDB(t)
	now := fixedNow
	nowFn := func() time.Time { return now }
	store, err := cache.NewLocal(16, 30*time.Second, nowFn)
	require.NoError(t, err)
	m := metrics.New(nil)

	r := newTestRecorder(d, nil)
	agg := newTestAggregator(d, store, m, nowFn)
	ctx := context.Background()

	record(t, r, visitor("1.1.1.1"), RecordInput{})
	first := agg.ComputeAnalytics(ctx, 7)
	assert.Equal(t, int64(1), first.TotalViews)

	record(t, r, visitor("1.1.1.1"), RecordInput{})
	cached := agg.ComputeAnalytics(ctx, 7)
	assert.Equal(t, int64(1), cached.TotalViews)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))

	// stats bypass the cache
	assert.Equal(t, int64(2), agg.ComputeStats(ctx).TodayViews)

	now = now.Add(31 * time.Second)
	fresh := agg.ComputeAnalytics(ctx, 7)
	assert.Equal(t, int64(2), fresh.TotalViews)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
}

func TestClassifyVisitors_IndependentPredicates(t *testing.T) {
	activity := []models.VisitorActivity{
		{IP: "a", Visits: 1, FirstSeen: "2024-01-10"}, // new only
		{IP: "b", Visits: 3, FirstSeen: "2024-01-10"}, // new and returning
		{IP: "c", Visits: 1, FirstSeen: "2023-01-01"}, // returning only
	}
	n, ret := classifyVisitors(activity, "2023-12-16")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), ret)
}

var _ GeoResolver = (*geo.Reader)(nil)

func TestHistory_WindowAndLimit(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	for _, date := range []string{"2024-01-01", "2024-01-13", "2024-01-14", "2024-01-15"} {
		_, err := models.UpsertDailySummary(ctx, d, date, "ip", "ua", fixedNow)
		require.NoError(t, err)
	}
	agg := newTestAggregator(d, nil, nil, clock(fixedNow))

	rows, err := agg.History(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-15", rows[0].VisitDate)
	assert.Equal(t, "2024-01-14", rows[1].VisitDate)

	rows, err = agg.History(ctx, 30, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	empty, err := newTestAggregator(testDB(t), nil, nil, clock(fixedNow)).History(ctx, 30, 100)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
