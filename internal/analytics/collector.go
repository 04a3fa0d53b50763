package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/metrics"
	"github.com/scmmishra/tally/internal/models"
)

// Collector buffers visit log rows and writes them in batches.
type Collector struct {
	ch      chan models.VisitEvent
	stop    chan struct{}
	done    chan struct{}
	db      *db.DB
	metrics *metrics.Metrics
	log     *slog.Logger
	timeout time.Duration
}

func NewCollector(d *db.DB, m *metrics.Metrics, log *slog.Logger, bufferSize int, flushInterval, writeTimeout time.Duration) *Collector {
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	c := &Collector{
		ch:      make(chan models.VisitEvent, bufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		db:      d,
		metrics: m,
		log:     log,
		timeout: writeTimeout,
	}
	go c.run(flushInterval)
	return c
}

// Write enqueues without blocking. When the buffer is full the event is
// dropped and ErrBufferFull returned.
func (c *Collector) Write(_ context.Context, e models.VisitEvent) error {
	select {
	case c.ch <- e:
		return nil
	default:
		c.metrics.VisitLogDropped.Inc()
		return ErrBufferFull
	}
}

// Shutdown flushes remaining events and returns.
func (c *Collector) Shutdown() {
	close(c.stop)
	<-c.done
}

func (c *Collector) run(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *Collector) flush() {
	var batch []models.VisitEvent
drain:
	for {
		select {
		case e := <-c.ch:
			batch = append(batch, e)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := models.BatchInsertVisitLogs(ctx, c.db, batch); err != nil {
		c.metrics.VisitLogFailures.Add(float64(len(batch)))
		c.log.Error("visit log flush failed", "events", len(batch), "error", err)
		return
	}
	c.log.Debug("visit log flushed", "events", len(batch))
}
