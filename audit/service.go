package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/mmosocial/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Entry holds one committed social mutation to be logged.
type Entry struct {
	TraceID  string
	ActorID  int64
	TargetID *int64
	ChatID   *int64
	Action   string
	Payload  interface{}
	Error    string
	IP       string
}

// Sink receives every batch after it is written to the database.
type Sink interface {
	Write(ctx context.Context, batch []*model.AuditLog) error
	Close() error
}

// Service logs audit entries asynchronously in batches. A nil *Service is
// valid and discards everything.
type Service struct {
	db       *gorm.DB
	sinks    []Sink
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger, sinks ...Sink) *Service {
	svc := &Service{
		db:     db,
		sinks:  sinks,
		ch:     make(chan *model.AuditLog, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry Entry) {
	if svc == nil {
		return
	}
	var payload datatypes.JSON
	if entry.Payload != nil {
		b, _ := json.Marshal(entry.Payload)
		payload = datatypes.JSON(b)
	}
	record := &model.AuditLog{
		TraceID:   entry.TraceID,
		ActorID:   entry.ActorID,
		TargetID:  entry.TargetID,
		ChatID:    entry.ChatID,
		Action:    entry.Action,
		Payload:   payload,
		Error:     entry.Error,
		IP:        entry.IP,
		CreatedAt: time.Now(),
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	if svc == nil {
		return
	}
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
	for _, s := range svc.sinks {
		if err := s.Close(); err != nil {
			svc.logger.Warn("audit sink close failed", zap.Error(err))
		}
	}
	svc.sinks = nil
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err))
		}
		for _, s := range svc.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Write(ctx, batch); err != nil {
				svc.logger.Warn("audit sink write failed", zap.Int("batch", len(batch)), zap.Error(err))
			}
			cancel()
		}
		batch = make([]*model.AuditLog, 0, batchSize)
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
