// Package audit provides the append-only security event trail. Every
// security-relevant transition in the core is recorded through the Recorder.
package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idcore/internal/domain"
	"idcore/internal/repository"
	"idcore/pkg/errors"
)

// Recorder writes audit events. A write failure never aborts the operation
// being audited: the failure is logged with the event it lost and the caller
// proceeds.
type Recorder struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

func NewRecorder(repo repository.AuditRepository, logger *zap.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
	}
}

// Record appends one audit entry. Details must not contain secret material;
// callers pass identifiers and outcomes only.
func (r *Recorder) Record(ctx context.Context, event domain.AuditEvent) {
	entry := &domain.AuditEntry{
		ID:        uuid.New().String(),
		EventType: event.Type,
		UserID:    event.UserID,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Details:   event.Details,
	}

	if err := r.repo.Insert(ctx, entry); err != nil {
		appErr := errors.NewAuditWriteFailedError(err)
		r.logger.Error("audit write failed",
			zap.String("error_type", string(appErr.Type)),
			zap.String("event_type", event.Type),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
	}
}

// ListByUser returns the audit trail of one user, newest first.
func (r *Recorder) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error) {
	return r.repo.ListByUser(ctx, userID, limit)
}
