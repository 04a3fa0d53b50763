// Command bench load-tests POST /record against a fresh server and verifies
// that every acknowledged visit made it into today's count.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/scmmishra/tally/internal/db"
)

var (
	benchPages  = []string{"/", "/blog", "/blog/go-sqlite-wal", "/projects", "/about", "/uses"}
	benchAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
	}
)

// workerResult is what one worker observed.
type workerResult struct {
	latencies []time.Duration
	failed    int
}

func main() {
	concurrency := flag.Int("c", 50, "number of concurrent workers")
	duration := flag.Duration("d", 10*time.Second, "benchmark duration")
	buffer := flag.Int("buffer", 0, "visit log buffer size (0 writes log rows synchronously)")
	flag.Parse()

	tmpDir, err := os.MkdirTemp("", "tally-bench-*")
	if err != nil {
		fatal("create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	baseURL, stop, err := startServer(tmpDir, *buffer)
	if err != nil {
		fatal("%v", err)
	}
	defer stop()

	fmt.Printf("recording for %s with %d workers\n", *duration, *concurrency)
	results := run(baseURL, *concurrency, *duration)

	var (
		lats   []time.Duration
		failed int
	)
	for _, r := range results {
		lats = append(lats, r.latencies...)
		failed += r.failed
	}
	slices.Sort(lats)

	fmt.Printf("ok=%d failed=%d rps=%.1f\n", len(lats), failed, float64(len(lats)+failed)/duration.Seconds())
	if len(lats) > 0 {
		fmt.Printf("p50=%s p95=%s p99=%s\n", percentile(lats, 50), percentile(lats, 95), percentile(lats, 99))
	}

	todayViews, err := fetchTodayViews(baseURL)
	if err != nil {
		stop()
		fatal("fetch stats: %v", err)
	}
	if todayViews != int64(len(lats)) {
		stop()
		fatal("lost updates: /stats reports %d views, %d records succeeded", todayViews, len(lats))
	}
	fmt.Printf("todayViews=%d matches acknowledged records\n", todayViews)
}

// startServer builds cmd/server, points it at a fresh database in dir and
// waits for /health. stop interrupts the process and waits for it to exit.
func startServer(dir string, buffer int) (baseURL string, stop func(), err error) {
	bin := filepath.Join(dir, "tally-server")
	build := exec.Command("go", "build", "-o", bin, "./cmd/server")
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		return "", nil, fmt.Errorf("build server: %w", err)
	}

	dbPath := filepath.Join(dir, "tally.db")
	database, err := db.Open(dbPath)
	if err != nil {
		return "", nil, fmt.Errorf("create schema: %w", err)
	}
	database.Close()

	port, err := freePort()
	if err != nil {
		return "", nil, fmt.Errorf("find free port: %w", err)
	}
	logFile, err := os.Create(filepath.Join(dir, "server.log"))
	if err != nil {
		return "", nil, err
	}

	srv := exec.Command(bin)
	srv.Stdout, srv.Stderr = logFile, logFile
	srv.Env = append(os.Environ(),
		fmt.Sprintf("TALLY_PORT=%d", port),
		"TALLY_DB_URL="+dbPath,
		fmt.Sprintf("TALLY_LOG_BUFFER_SIZE=%d", buffer),
		"TALLY_FLUSH_INTERVAL=1s",
		"TALLY_RECONCILE_SCHEDULE=",
		"TALLY_LOG_LEVEL=warn",
	)
	if err := srv.Start(); err != nil {
		logFile.Close()
		return "", nil, fmt.Errorf("start server: %w", err)
	}
	stop = func() {
		srv.Process.Signal(syscall.SIGINT)
		srv.Wait()
		logFile.Close()
	}

	baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waitHealthy(ctx, baseURL+"/health"); err != nil {
		stop()
		return "", nil, fmt.Errorf("server not ready (see %s): %w", logFile.Name(), err)
	}
	return baseURL, stop, nil
}

func run(baseURL string, workers int, d time.Duration) []workerResult {
	client := &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: workers}}
	deadline := time.Now().Add(d)
	results := make([]workerResult, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(i) + 1))
			res := &results[i]
			for time.Now().Before(deadline) {
				start := time.Now()
				if err := record(client, baseURL, rng); err != nil {
					res.failed++
					continue
				}
				res.latencies = append(res.latencies, time.Since(start))
			}
		}()
	}
	wg.Wait()
	return results
}

func record(client *http.Client, baseURL string, rng *rand.Rand) error {
	body, _ := json.Marshal(map[string]any{
		"page_url":         benchPages[rng.Intn(len(benchPages))],
		"session_duration": rng.Intn(300),
	})
	req, err := http.NewRequest(http.MethodPost, baseURL+"/record", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", benchAgents[rng.Intn(len(benchAgents))])
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.%d.%d", rng.Intn(256), rng.Intn(254)+1))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func fetchTodayViews(baseURL string) (int64, error) {
	resp, err := http.Get(baseURL + "/stats")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	var st struct {
		TodayViews int64 `json:"todayViews"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return 0, err
	}
	return st.TodayViews, nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func waitHealthy(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if resp, err := client.Get(url); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := min(len(sorted)*p/100, len(sorted)-1)
	return sorted[idx].Round(10 * time.Microsecond)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "bench: "+format+"\n", args...)
	os.Exit(1)
}
