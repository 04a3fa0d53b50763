package analytics

import (
	"context"
	"errors"

	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/models"
)

var ErrBufferFull = errors.New("visit log buffer full")

// EventSink persists visit log rows. Writes are best-effort: callers log
// failures and carry on.
type EventSink interface {
	Write(ctx context.Context, e models.VisitEvent) error
}

// SyncSink inserts each event as it arrives.
type SyncSink struct {
	DB *db.DB
}

func (s SyncSink) Write(ctx context.Context, e models.VisitEvent) error {
	return models.InsertVisitLog(ctx, s.DB, &e)
}
