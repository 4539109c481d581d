package service

import (
	"context"
	"log/slog"
	"time"

	"school-admin/internal/event"
	"school-admin/internal/model"
)

const auditWriteTimeout = 5 * time.Second

// AuditService persists bus events as audit entries and serves the admin
// audit log.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Attach subscribes immediately and returns the consuming loop, so no event
// published after Attach returns is missed.
func (s *AuditService) Attach(bus event.Bus) func(ctx context.Context) {
	events, unsubscribe := bus.Subscribe()
	return func(ctx context.Context) {
		defer unsubscribe()
		s.consume(ctx, events)
	}
}

func (s *AuditService) consume(ctx context.Context, events <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := s.Record(ctx, e); err != nil {
				slog.Error("failed to persist audit entry", "type", e.Type, "error", err)
			}
		}
	}
}

func (s *AuditService) Record(ctx context.Context, e event.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()

	return s.store.Append(writeCtx, model.AuditEntry{
		ID:         e.ID,
		Action:     string(e.Type),
		OccurredAt: e.Timestamp,
		ActorID:    e.ActorID,
		ActorType:  e.ActorType,
		Subject:    e.Subject,
		Status:     e.Status,
		Details:    e.Details,
	})
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = query.Normalize()

	items, total, err := s.store.Query(ctx, query)
	if err != nil {
		return nil, model.Meta{}, err
	}
	return items, model.NewMeta(query.Page, query.Limit, total), nil
}
