package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationState is one persisted state blob.
type ConversationState struct {
	data.BaseModel
	StateKey  string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"state_key"`
	State     StateJSON `gorm:"type:jsonb;not null"                   json:"state"`
	TouchedAt time.Time `gorm:"index;not null"                        json:"touched_at"`
}

func (ConversationState) TableName() string { return "conversation_states" }

// StateJSON is a custom GORM type for JSONB storage of serialized state.
type StateJSON []byte

func (s StateJSON) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	return string(s), nil
}

func (s *StateJSON) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = append(StateJSON(nil), v...)
	case string:
		*s = StateJSON(v)
	case nil:
		*s = nil
	default:
		return fmt.Errorf("unsupported type for StateJSON: %T", src)
	}
	return nil
}

// DatastoreStore keeps state in the frame datastore.
type DatastoreStore struct {
	pool pool.Pool
	now  func() time.Time
}

// NewDatastoreStore creates a store over a frame datastore pool.
func NewDatastoreStore(p pool.Pool) *DatastoreStore {
	return &DatastoreStore{pool: p, now: time.Now}
}

func (d *DatastoreStore) db(ctx context.Context, readOnly bool) *gorm.DB {
	return d.pool.DB(ctx, readOnly)
}

// Migrate creates or updates the conversation_states table.
func (d *DatastoreStore) Migrate(ctx context.Context) error {
	return d.db(ctx, false).AutoMigrate(&ConversationState{})
}

// Load implements Store.
func (d *DatastoreStore) Load(ctx context.Context, key string) ([]byte, error) {
	var row ConversationState
	err := d.db(ctx, true).Where("state_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return row.State, nil
}

// Save implements Store.
func (d *DatastoreStore) Save(ctx context.Context, key string, state []byte) error {
	row := ConversationState{StateKey: key, State: state, TouchedAt: d.now()}
	row.ID = xid.New().String()
	err := d.db(ctx, false).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "touched_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Delete implements Store. Rows are removed outright rather than soft-deleted
// so a key can be reused.
func (d *DatastoreStore) Delete(ctx context.Context, key string) error {
	err := d.db(ctx, false).Unscoped().Where("state_key = ?", key).Delete(&ConversationState{}).Error
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Sweep implements Store.
func (d *DatastoreStore) Sweep(ctx context.Context, idleSince time.Time) ([]string, error) {
	var rows []ConversationState
	err := d.db(ctx, false).Unscoped().
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "state_key"}}}).
		Where("touched_at < ?", idleSince).
		Delete(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sweep conversation states: %w", err)
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.StateKey)
	}
	return keys, nil
}
