package notification_log

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studkg/cashier/internal/models"
	"github.com/studkg/cashier/pkg/logctx"
	"github.com/studkg/cashier/pkg/tool"
)

const queueSize = 256

type entry struct {
	ctx context.Context
	log models.PaymentNotificationLog
}

// Service persists notification logs off the request path. A single worker
// writes entries in the order they were saved, so the handled row of a
// delivery always lands after its received row.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger

	queue   chan entry
	pending sync.WaitGroup
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service {
	s := &Service{
		db:    db,
		log:   log,
		queue: make(chan entry, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Save queues log for persistence. The entry is copied; an empty ID is
// assigned and written back so a later Save updates the same row. Nil input
// is ignored. When the queue is full the entry is dropped and logged.
func (s *Service) Save(ctx context.Context, log *models.PaymentNotificationLog) {
	if log == nil {
		return
	}
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logctx.FromCtx(ctx, s.log).Warnw("notification_log_closed", "id", log.ID)
		return
	}

	s.pending.Add(1)
	select {
	case s.queue <- entry{ctx: context.WithoutCancel(ctx), log: *log}:
	default:
		s.pending.Done()
		logctx.FromCtx(ctx, s.log).Errorw("notification_log_dropped", "id", log.ID, "status", log.Status)
	}
}

// Flush blocks until every queued entry has been written.
func (s *Service) Flush() {
	s.pending.Wait()
}

// Close stops accepting entries and waits for the queue to drain.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)
	for e := range s.queue {
		// a repeated id finishes the row: only the outcome columns change
		err := s.db.WithContext(e.ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "result", "outcome", "response_status", "payment_id", "transaction_id", "updated_at"}),
		}).Create(&e.log).Error
		if err != nil {
			logctx.FromCtx(e.ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
		s.pending.Done()
	}
}

func registerClose(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		s.Close()
		return nil
	}})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerClose),
)
