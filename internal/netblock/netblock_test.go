package netblock

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func serveText(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loaded(t *testing.T, sources ...string) *List {
	t.Helper()
	l := New(sources, nil)
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return l
}

// ── Parse ───────────────────────────────────────────────────────────

func TestParse_MixedFormats(t *testing.T) {
	input := `# datacenters
10.0.0.0/8
2001:db8::/32

1.2.3.4
5.6.7.8	3
9.9.9.0/24,provider
garbage
`
	ranges, ips, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(ranges) != 3 {
		t.Errorf("ranges = %d, want 3", len(ranges))
	}
	if len(ips) != 2 || ips[0] != "1.2.3.4" || ips[1] != "5.6.7.8" {
		t.Errorf("ips = %v, want [1.2.3.4 5.6.7.8]", ips)
	}
}

// ── Contains ────────────────────────────────────────────────────────

func TestContains_RangesAndAddresses(t *testing.T) {
	srv := serveText(t, "10.0.0.0/8\n192.168.1.0/24\n")
	path := filepath.Join(t.TempDir(), "ips.txt")
	if err := os.WriteFile(path, []byte("203.0.113.9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := loaded(t, srv.URL, path)

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.200", true},
		{"192.168.2.1", false},
		{"203.0.113.9", true},
		{"203.0.113.10", false},
		{"8.8.8.8", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := l.Contains(tt.ip); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestContains_NilAndEmpty(t *testing.T) {
	var nilList *List
	if nilList.Contains("10.0.0.1") {
		t.Error("nil list should match nothing")
	}
	if New(nil, nil).Contains("10.0.0.1") {
		t.Error("empty list should match nothing")
	}
}

func TestContains_ConcurrentWithRefresh(t *testing.T) {
	srv := serveText(t, "10.0.0.0/8\n")
	l := loaded(t, srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if !l.Contains("10.0.0.1") {
				t.Error("10.0.0.1 should match")
			}
		}()
		go func() {
			defer wg.Done()
			l.Refresh(context.Background())
		}()
	}
	wg.Wait()
}

// ── Refresh ─────────────────────────────────────────────────────────

func TestRefresh_PartialFailureKeepsLoadedSources(t *testing.T) {
	good := serveText(t, "10.0.0.0/8\n")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	l := New([]string{good.URL, bad.URL, filepath.Join(t.TempDir(), "missing.txt")}, nil)
	err := l.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected error naming failed sources")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error = %q, want status 500", err)
	}
	if !l.Contains("10.9.9.9") {
		t.Error("good source should still be loaded")
	}
}

func TestRefresh_AllFailKeepsPreviousData(t *testing.T) {
	body := "10.0.0.0/8\n"
	var mu sync.Mutex
	fail := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	l := loaded(t, srv.URL)
	mu.Lock()
	fail = true
	mu.Unlock()

	if err := l.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !l.Contains("10.0.0.1") {
		t.Error("previous ranges should survive a failed refresh")
	}
	if r, a := l.Len(); r != 1 || a != 0 {
		t.Errorf("Len = %d/%d, want 1/0", r, a)
	}
}

// ── Start / Stop ────────────────────────────────────────────────────

func TestStart_LoadsImmediately(t *testing.T) {
	srv := serveText(t, "172.16.0.0/12\n")
	l := New([]string{srv.URL}, nil)
	if err := l.Start(context.Background(), "@daily"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l.Stop)

	if !l.Contains("172.20.0.1") {
		t.Error("range should be loaded by Start")
	}
}

func TestStart_InvalidSchedule(t *testing.T) {
	l := New(nil, nil)
	if err := l.Start(context.Background(), "not a schedule"); err == nil {
		t.Fatal("expected schedule error")
	}
	l.Stop()
}
