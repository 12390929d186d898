package gdpr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"idcore/internal/audit"
	"idcore/internal/domain"
	"idcore/internal/repository"
	"idcore/internal/token"
)

const defaultPurgeBatch = 100

// Sweeper hard-deletes pseudonymized users whose retention window has
// elapsed. Several instances may sweep the same database concurrently: the
// per-user row lock taken by the purge makes each user deleted exactly once.
type Sweeper struct {
	users     repository.UserRepository
	tokens    *token.Service
	recorder  *audit.Recorder
	logger    *zap.Logger
	clock     clockwork.Clock
	interval  time.Duration
	batchSize int

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
}

func NewSweeper(
	users repository.UserRepository,
	tokens *token.Service,
	recorder *audit.Recorder,
	logger *zap.Logger,
	clock clockwork.Clock,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		users:     users,
		tokens:    tokens,
		recorder:  recorder,
		logger:    logger,
		clock:     clock,
		interval:  interval,
		batchSize: defaultPurgeBatch,
	}
}

// Start begins the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	s.stopCh = make(chan struct{})
	s.isRunning = true
	go s.run(ctx)

	s.logger.Info("purge sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the periodic sweep. Safe to call when not running.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	close(s.stopCh)
	s.isRunning = false

	s.logger.Info("purge sweeper stopped")
	return nil
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("purge sweep failed", zap.Error(err))
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep over due purges and returns how many users
// were deleted. A user that cannot be purged is logged and skipped so one bad
// row cannot stall the rest of the batch.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	ids, err := s.users.ListDuePurges(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due purges: %w", err)
	}

	purged := 0
	for _, id := range ids {
		ok, jtis, err := s.users.Purge(ctx, id, now)
		if err != nil {
			s.logger.Error("failed to purge user", zap.String("user_id", id), zap.Error(err))
			continue
		}
		if !ok {
			// Another sweep took the row, or the user reactivated between
			// the listing and the lock.
			continue
		}

		if len(jtis) > 0 {
			s.tokens.MarkRevoked(ctx, jtis)
		}
		s.recorder.Record(ctx, domain.AuditEvent{
			Type:    domain.EventGDPRPurged,
			UserID:  id,
			Details: map[string]interface{}{"deleted_sessions": len(jtis)},
		})
		purged++
	}

	if purged > 0 {
		s.logger.Info("purge sweep completed", zap.Int("purged", purged), zap.Int("due", len(ids)))
	}
	return purged, nil
}
