package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/logger"
)

// Entry is one row of the state table.
type Entry struct {
	Key       string    `gorm:"primaryKey;column:state_key;type:varchar(191)"`
	Value     []byte    `gorm:"column:state_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Entry) TableName() string {
	return "migration_state"
}

// GormStore is a Store backed by a SQLite or MySQL table through GORM.
type GormStore struct {
	db     *gorm.DB
	logger *logger.Logger
}

// OpenGormStore wraps an open connection and creates the state table if needed.
// driver is config.DriverSQLite or config.DriverMySQL.
func OpenGormStore(ctx context.Context, conn *sql.DB, driver string, log *logger.Logger) (*GormStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		// modernc registers as "sqlite", so no cgo driver is involved
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: conn})
	case config.DriverMySQL:
		dialector = gormmysql.New(gormmysql.Config{Conn: conn})
	default:
		return nil, fmt.Errorf("unsupported state store driver: %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate state table: %w", err)
	}

	return &GormStore{db: db, logger: log}, nil
}

// GetBool returns false when the key is missing.
func (s *GormStore) GetBool(ctx context.Context, key string) (bool, error) {
	value, ok, err := s.GetBlob(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, err := strconv.ParseBool(string(value))
	if err != nil {
		return false, fmt.Errorf("state key %s holds a non-boolean value: %w", key, err)
	}
	return b, nil
}

func (s *GormStore) SetBool(ctx context.Context, key string, value bool) error {
	return s.SetBlob(ctx, key, []byte(strconv.FormatBool(value)))
}

func (s *GormStore) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("state_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read state key %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// SetBlob inserts or replaces the value under key.
func (s *GormStore) SetBlob(ctx context.Context, key string, value []byte) error {
	entry := &Entry{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"state_value", "updated_at"}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to write state key %s: %w", key, err)
	}
	s.logger.Debugw("State key written", "key", key, "bytes", len(value))
	return nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("state_key = ?", key).Delete(&Entry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete state key %s: %w", key, err)
	}
	return nil
}

var _ Store = (*GormStore)(nil)
