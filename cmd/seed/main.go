package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/scmmishra/tally/internal/analytics"
	"github.com/scmmishra/tally/internal/config"
	"github.com/scmmishra/tally/internal/db"
)

type weighted[T any] struct {
	v      T
	weight float64
}

var pages = []weighted[string]{
	{"/", 40},
	{"/blog", 15},
	{"/blog/go-sqlite-wal", 9},
	{"/blog/postgres-upserts", 7},
	{"/projects", 10},
	{"/about", 8},
	{"/uses", 4},
	{"/contact", 3},
}

var referrers = []weighted[string]{
	{"", 30}, // direct
	{"https://www.google.com/", 25},
	{"https://duckduckgo.com/", 5},
	{"https://github.com/scmmishra", 12},
	{"https://twitter.com/", 6},
	{"https://www.linkedin.com/feed/", 4},
	{"https://news.ycombinator.com/item?id=1", 6},
	{"https://www.reddit.com/r/golang/", 5},
	{"https://dev.to/", 3},
	{"https://lobste.rs/", 2},
}

type place struct {
	country, city, region, tz string
	lat, lon                  float64
}

var places = []weighted[place]{
	{place{"United States", "San Francisco", "California", "America/Los_Angeles", 37.77, -122.42}, 25},
	{place{"India", "Bengaluru", "Karnataka", "Asia/Kolkata", 12.97, 77.59}, 20},
	{place{"Germany", "Berlin", "Land Berlin", "Europe/Berlin", 52.52, 13.40}, 8},
	{place{"United Kingdom", "London", "England", "Europe/London", 51.51, -0.13}, 7},
	{place{"Brazil", "São Paulo", "São Paulo", "America/Sao_Paulo", -23.55, -46.63}, 6},
	{place{"France", "Paris", "Île-de-France", "Europe/Paris", 48.86, 2.35}, 5},
	{place{"Canada", "Toronto", "Ontario", "America/Toronto", 43.65, -79.38}, 4},
	{place{"Japan", "Tokyo", "Tokyo", "Asia/Tokyo", 35.68, 139.69}, 3},
	{place{"Singapore", "Singapore", "Singapore", "Asia/Singapore", 1.35, 103.82}, 2},
	{place{analytics.Unknown, analytics.Unknown, analytics.Unknown, analytics.DefaultTimezone, 0, 0}, 5},
}

var userAgents = []weighted[string]{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", 35},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15", 15},
	{"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", 12},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0", 8},
	{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", 14},
	{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", 10},
	{"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", 4},
	{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", 2},
}

func pick[T any](items []weighted[T], rng *rand.Rand) T {
	var total float64
	for _, item := range items {
		total += item.weight
	}
	r := rng.Float64() * total
	for _, item := range items {
		r -= item.weight
		if r <= 0 {
			return item.v
		}
	}
	return items[len(items)-1].v
}

func main() {
	days := flag.Int("days", 90, "number of days of history to generate")
	perDay := flag.Int("per-day", 120, "average visits per weekday")
	visitors := flag.Int("visitors", 400, "size of the visitor pool")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DBURL)
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	rng := rand.New(rand.NewSource(42)) // deterministic seed
	ips := make([]string, *visitors)
	for i := range ips {
		ips[i] = fmt.Sprintf("%d.%d.%d.%d", rng.Intn(223)+1, rng.Intn(256), rng.Intn(256), rng.Intn(254)+1)
	}

	var now time.Time
	recorder := analytics.NewRecorder(database, nil, nil, nil, analytics.RecorderConfig{
		Location:     cfg.Location,
		QueryTimeout: cfg.QueryTimeout,
		MaxFieldLen:  cfg.MaxFieldLen,
		Now:          func() time.Time { return now },
	})

	today := time.Now().In(cfg.Location)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, cfg.Location).AddDate(0, 0, -(*days - 1))
	ctx := context.Background()

	fmt.Printf("Seeding %d days into %s...\n", *days, database.Dialect)

	total, degraded := 0, 0
	for d := 0; d < *days; d++ {
		day := start.AddDate(0, 0, d)

		// ±40% variance, growth toward today, weekend dip
		variance := 0.6 + rng.Float64()*0.8
		growth := 0.7 + 0.6*float64(d)/float64(*days)
		weekday := 1.0
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			weekday = 0.5
		}
		n := int(float64(*perDay) * variance * growth * weekday)

		for j := 0; j < n; j++ {
			hour := rng.NormFloat64()*4 + 14
			hour = min(max(hour, 0), 23)
			now = day.Add(time.Duration(hour*float64(time.Hour)) + time.Duration(rng.Intn(3600))*time.Second)
			if now.After(time.Now()) {
				continue
			}

			// Earlier pool members show up more often, giving a returning core.
			ip := ips[int(float64(len(ips))*rng.Float64()*rng.Float64())]
			p := pick(places, rng)
			cc := analytics.ClientContext{
				IP:        ip,
				Country:   p.country,
				City:      p.city,
				Region:    p.region,
				Timezone:  p.tz,
				Latitude:  p.lat,
				Longitude: p.lon,
				UserAgent: pick(userAgents, rng),
				Referrer:  pick(referrers, rng),
			}
			if cc.Referrer == "" {
				cc.Referrer = analytics.DirectReferrer
			}

			res, err := recorder.Record(ctx, cc, analytics.RecordInput{
				PagePath:         pick(pages, rng),
				SessionDuration:  int(rng.ExpFloat64() * 75),
				IsFinal:          rng.Intn(3) == 0,
				ScreenResolution: "1920x1080",
				ViewportSize:     "1440x900",
			})
			if err != nil {
				slog.Error("record", "date", res.VisitDate, "error", err)
				os.Exit(1)
			}
			if res.Degraded {
				degraded++
			}
			total++
		}
		fmt.Printf("  %s  %4d visits\n", day.Format(analytics.DateLayout), n)
	}

	fmt.Printf("\nDone! Recorded %d visits (%d degraded).\n", total, degraded)
	fmt.Printf("Database: %s\n", cfg.DBURL)
}
