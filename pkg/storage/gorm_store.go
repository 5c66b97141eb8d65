package storage

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is one persisted key/value entry.
// Values are stored JSON-encoded so that both plain strings and structured
// objects land in the same column type.
type Record struct {
	Key   string         `gorm:"column:key;primaryKey;type:varchar(255)"`
	Value datatypes.JSON `gorm:"column:value;not null"`
}

// TableName specifies the table name for the Record model.
func (Record) TableName() string {
	return "bridge_store"
}

// GormStore is a Store backed by a GORM database (SQLite or PostgreSQL).
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a store on the given database handle and ensures the
// backing table exists.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate bridge store")
	}
	return &GormStore{db: db}, nil
}

// SetItem persists value under key, overwriting any previous entry.
func (s *GormStore) SetItem(ctx context.Context, key, value string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode value for key %q", key)
	}

	rec := Record{Key: key, Value: datatypes.JSON(raw)}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&rec).Error
	return errors.Wrapf(err, "failed to store key %q", key)
}

// GetItem returns the value stored under key.
func (s *GormStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	var rec Record
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to load key %q", key)
	}

	var value string
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		return "", false, errors.Wrapf(err, "failed to decode value for key %q", key)
	}
	return value, true, nil
}

// RemoveItem deletes the entry under key.
func (s *GormStore) RemoveItem(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Delete(&Record{}, "key = ?", key).Error
	return errors.Wrapf(err, "failed to remove key %q", key)
}

// RemoveItems deletes several entries at once.
func (s *GormStore) RemoveItems(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Delete(&Record{}, "key IN ?", keys).Error
	return errors.Wrap(err, "failed to remove keys")
}
