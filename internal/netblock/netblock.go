// Package netblock keeps an in-memory set of address ranges, typically
// datacenter networks and crawler blocklists, used to tell automated traffic
// apart from visitors.
package netblock

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const fetchTimeout = 30 * time.Second

// List matches addresses against loaded ranges. The zero value matches
// nothing. All methods are safe for concurrent use.
type List struct {
	sources []string
	client  *http.Client
	log     *slog.Logger

	mu     sync.RWMutex
	ranges []*net.IPNet
	ips    map[string]struct{}

	cron *cron.Cron
}

// New returns a list fed from sources. A source is an http(s) URL or a local
// file path; each line holds a CIDR, a bare IP, or an IP followed by other
// whitespace-separated fields. Blank lines and # comments are ignored.
func New(sources []string, log *slog.Logger) *List {
	if log == nil {
		log = slog.Default()
	}
	return &List{
		sources: sources,
		client:  &http.Client{Timeout: fetchTimeout},
		log:     log,
		ips:     map[string]struct{}{},
	}
}

// Contains reports whether ip falls inside a loaded range or matches a
// listed address.
func (l *List) Contains(ip string) bool {
	if l == nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.ips[parsed.String()]; ok {
		return true
	}
	for _, n := range l.ranges {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// Len returns the number of loaded ranges and single addresses.
func (l *List) Len() (ranges, ips int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ranges), len(l.ips)
}

// Refresh reloads every source concurrently. Sources that fail keep nothing;
// the previous data is replaced only when at least one source loaded.
func (l *List) Refresh(ctx context.Context) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		ranges []*net.IPNet
		ips    = map[string]struct{}{}
		errs   []string
		loaded int
	)
	for _, src := range l.sources {
		g.Go(func() error {
			r, a, err := l.load(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", src, err))
				return nil
			}
			loaded++
			ranges = append(ranges, r...)
			for _, ip := range a {
				ips[ip] = struct{}{}
			}
			return nil
		})
	}
	_ = g.Wait()

	if loaded > 0 {
		l.mu.Lock()
		l.ranges, l.ips = ranges, ips
		l.mu.Unlock()
		l.log.Info("netblock refreshed", "ranges", len(ranges), "ips", len(ips), "sources", loaded)
	}
	if len(errs) > 0 {
		return fmt.Errorf("netblock: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Start loads the sources once and then on schedule until Stop.
func (l *List) Start(ctx context.Context, schedule string) error {
	if err := l.Refresh(ctx); err != nil {
		l.log.Warn("netblock partial load", "error", err)
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := l.Refresh(context.Background()); err != nil {
			l.log.Warn("netblock partial refresh", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	l.cron = c
	c.Start()
	return nil
}

func (l *List) Stop() {
	if l == nil || l.cron == nil {
		return
	}
	<-l.cron.Stop().Done()
}

func (l *List) load(ctx context.Context, src string) ([]*net.IPNet, []string, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		return Parse(f)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}

// Parse reads one entry per line. Unparseable lines are skipped.
func Parse(r io.Reader) ([]*net.IPNet, []string, error) {
	var (
		ranges []*net.IPNet
		ips    []string
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) == 0 {
			continue
		}
		field := fields[0]
		if _, n, err := net.ParseCIDR(field); err == nil {
			ranges = append(ranges, n)
			continue
		}
		if ip := net.ParseIP(field); ip != nil {
			ips = append(ips, ip.String())
		}
	}
	return ranges, ips, scanner.Err()
}
