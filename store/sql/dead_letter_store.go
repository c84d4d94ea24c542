package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-sync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeadLetterStore persists retry items that exhausted their attempts. A
// retry item is recorded at most once.
type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRecord]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRecord](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{db: db, repo: repo}, nil
}

func (s *DeadLetterStore) DeadLetter(ctx context.Context, item core.RetryItem, cause error) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("sqlstore: retry item id is required")
	}
	if strings.TrimSpace(item.EventID) == "" || strings.TrimSpace(item.EventType) == "" {
		return fmt.Errorf("sqlstore: event id and event type are required")
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	record := newDeadLetterRecord(item, reason, time.Now().UTC())
	record.ID = uuid.NewString()
	if _, err := s.repo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// List returns dead letters newest first. An empty eventType lists all.
func (s *DeadLetterStore) List(ctx context.Context, eventType string, limit int) ([]DeadLetter, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *DeadLetterStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dead letter id is required")
	}
	_, err := s.db.NewDelete().
		Model((*deadLetterRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
