package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roadpay/roadpay/core"
	"github.com/uptrace/bun"
)

// KVStore is the durable key/value storage behind the event ledger,
// dead letters, and domain records. PutIfAbsent rides the primary key
// constraint, so concurrent claims of the same key resolve exactly
// once regardless of dialect.
type KVStore struct {
	db *bun.DB
}

func NewKVStore(db *bun.DB) (*KVStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}

	return &KVStore{db: db}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("sqlstore: kv store is not configured")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("sqlstore: key is required")
	}

	record := &kvRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return append([]byte(nil), record.Value...), true, nil
}

func (s *KVStore) Put(ctx context.Context, key string, value []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: key is required")
	}

	now := time.Now().UTC()
	record := &kvRecord{
		Key:       key,
		Value:     append([]byte(nil), value...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

func (s *KVStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: kv store is not configured")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("sqlstore: key is required")
	}

	now := time.Now().UTC()
	record := &kvRecord{
		Key:       key,
		Value:     append([]byte(nil), value...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: kv store is not configured")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: key is required")
	}

	_, err := s.db.NewDelete().
		Model((*kvRecord)(nil)).
		Where("key = ?", key).
		Exec(ctx)

	return err
}

func (s *KVStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: kv store is not configured")
	}

	var keys []string
	query := s.db.NewSelect().
		Model((*kvRecord)(nil)).
		Column("key").
		Order("key ASC")

	if prefix = strings.TrimSpace(prefix); prefix != "" {
		query = query.Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	}

	if err := query.Scan(ctx, &keys); err != nil {
		return nil, err
	}

	return keys, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var (
	_ core.AtomicStorage = (*KVStore)(nil)
	_ core.KeyLister     = (*KVStore)(nil)
)
