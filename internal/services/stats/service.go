// Package stats records usage statistics off the request path: a bounded
// queue with drop-newest overflow feeding the document store.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/freva-org/freva-rest/internal/interfaces"
	"github.com/freva-org/freva-rest/internal/models"
)

const defaultQueueSize = 4096

// Service implements interfaces.StatsService. Record never blocks; when the
// queue is full the record is dropped and a counter incremented.
type Service struct {
	store   interfaces.MetadataStore
	logger  arbor.ILogger
	queue   chan models.StatsRecord
	dropped atomic.Uint64
}

// NewService creates the statistics recorder.
func NewService(store interfaces.MetadataStore, queueSize int, logger arbor.ILogger) *Service {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Service{
		store:  store,
		logger: logger,
		queue:  make(chan models.StatsRecord, queueSize),
	}
}

// Record enqueues one usage record without blocking the caller.
func (s *Service) Record(rec models.StatsRecord) {
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports how many records overflowed the queue.
func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

// Run drains the queue into the document store until ctx is cancelled.
// Writes are best effort: a failed insert is logged, never retried.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case rec := <-s.queue:
			s.write(rec)
		}
	}
}

func (s *Service) write(rec models.StatsRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.InsertStats(ctx, rec); err != nil {
		s.logger.Debug().Err(err).Str("route", rec.Route).Msg("Statistics write failed")
	}
}

// flush writes whatever is still queued at shutdown.
func (s *Service) flush() {
	for {
		select {
		case rec := <-s.queue:
			s.write(rec)
		default:
			return
		}
	}
}
