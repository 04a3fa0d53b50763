package models

import (
	"context"
	"sync"
	"testing"
	"time"
)

var now = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func TestUpsertDailySummary_InsertThenIncrement(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	n, err := UpsertDailySummary(ctx, d, "2024-01-15", "1.1.1.1", "ua-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("first count = %d, want 1", n)
	}

	n, err = UpsertDailySummary(ctx, d, "2024-01-15", "2.2.2.2", "ua-2", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("second count = %d, want 2", n)
	}

	rows, err := ListDailySummaries(ctx, d, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].LastIP != "2.2.2.2" || rows[0].LastUserAgent != "ua-2" {
		t.Errorf("last seen = %s/%s, want 2.2.2.2/ua-2", rows[0].LastIP, rows[0].LastUserAgent)
	}
}

func TestUpsertDailySummary_ConcurrentNoLostUpdates(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	const workers = 50

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := UpsertDailySummary(ctx, d, "2024-01-15", "1.1.1.1", "ua", now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	n, err := DailyCount(ctx, d, "2024-01-15")
	if err != nil {
		t.Fatal(err)
	}
	if n != workers {
		t.Errorf("count = %d, want %d", n, workers)
	}
}

func TestDailyCount_MissingDayIsZero(t *testing.T) {
	d := testDB(t)
	n, err := DailyCount(context.Background(), d, "1999-12-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestLifetimeTotal_EqualsSumOfDays(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	total, err := LifetimeTotal(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("empty total = %d, want 0", total)
	}

	perDay := map[string]int{"2024-01-13": 2, "2024-01-14": 3, "2024-01-15": 1}
	for date, n := range perDay {
		for i := 0; i < n; i++ {
			if _, err := UpsertDailySummary(ctx, d, date, "ip", "ua", now); err != nil {
				t.Fatal(err)
			}
		}
	}

	total, err = LifetimeTotal(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if total != 6 {
		t.Errorf("total = %d, want 6", total)
	}

	window, err := TotalViewsSince(ctx, d, "2024-01-14")
	if err != nil {
		t.Fatal(err)
	}
	if window != 4 {
		t.Errorf("window total = %d, want 4", window)
	}
}

func TestDailyCountsSince_Ascending(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	for _, date := range []string{"2024-01-15", "2024-01-10", "2024-01-13", "2024-01-13"} {
		if _, err := UpsertDailySummary(ctx, d, date, "ip", "ua", now); err != nil {
			t.Fatal(err)
		}
	}

	got, err := DailyCountsSince(ctx, d, "2024-01-12")
	if err != nil {
		t.Fatal(err)
	}
	want := []DayCount{{"2024-01-13", 2}, {"2024-01-15", 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestListDailySummaries_NewestFirstWithLimit(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	for _, date := range []string{"2024-01-11", "2024-01-12", "2024-01-13", "2024-01-14"} {
		if _, err := UpsertDailySummary(ctx, d, date, "ip", "ua", now); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := ListDailySummaries(ctx, d, "2024-01-12", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].VisitDate != "2024-01-14" || rows[1].VisitDate != "2024-01-13" {
		t.Errorf("dates = %s, %s; want 2024-01-14, 2024-01-13", rows[0].VisitDate, rows[1].VisitDate)
	}
	if rows[0].CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}
