package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// KVStore is a core.Storage backed by the billing_kv_entries table. Values
// are stored as given; callers own any encryption.
type KVStore struct {
	db   *bun.DB
	repo repository.Repository[*kvEntryRecord]
}

func NewKVStore(db *bun.DB) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*kvEntryRecord](db, kvEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid kv repository wiring: %w", err)
		}
	}
	return &KVStore{db: db, repo: repo}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.repo == nil {
		return nil, false, fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("sqlstore: key is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("entry_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), records[0].Value...), true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: key is required")
	}
	stored := append([]byte(nil), value...)
	if stored == nil {
		stored = []byte{}
	}
	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findKVEntryTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			record = &kvEntryRecord{
				ID:        uuid.NewString(),
				Key:       key,
				Value:     stored,
				CreatedAt: now,
				UpdatedAt: now,
			}
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			if insertErr == nil {
				return nil
			}
			if !isUniqueViolation(insertErr) {
				return insertErr
			}
			record, err = findKVEntryTx(ctx, tx, key)
			if err != nil {
				return err
			}
			if record == nil {
				return insertErr
			}
		}
		record.Value = stored
		record.UpdatedAt = now
		_, err = tx.NewUpdate().
			Model(record).
			Column("value", "updated_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: key is required")
	}
	_, err := s.db.NewDelete().
		Model((*kvEntryRecord)(nil)).
		Where("entry_key = ?", key).
		Exec(ctx)
	return err
}

// Keys lists stored keys with the given prefix in key order.
func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: kv store is not configured")
	}
	var keys []string
	query := s.db.NewSelect().
		Model((*kvEntryRecord)(nil)).
		Column("entry_key").
		OrderExpr("entry_key ASC")
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		query = query.Where("entry_key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if err := query.Scan(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func findKVEntryTx(ctx context.Context, tx bun.Tx, key string) (*kvEntryRecord, error) {
	records := []*kvEntryRecord{}
	err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.entry_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return replacer.Replace(value)
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
