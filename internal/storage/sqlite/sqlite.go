package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"clipboard-history/internal/dedup"
	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

// SQLiteStorage is the durable history. The database runs in WAL mode so
// readers proceed while a write is in flight; writeMu serializes mutations.
type SQLiteStorage struct {
	db         *gorm.DB
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	writeMu     sync.Mutex
	lastCreated time.Time // guarded by writeMu
}

var _ storage.Store = (*SQLiteStorage)(nil)

// Option customizes a SQLiteStorage.
type Option func(*SQLiteStorage)

func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStorage) { s.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStorage) { s.now = now }
}

// New opens (creating if needed) the database at config.DBPath.
func New(config storage.Config, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{
		maxEntries: config.MaxEntries,
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxEntries <= 0 {
		s.maxEntries = storage.DefaultMaxEntries
	}
	s.logger = s.logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := config.DBPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: logger.New(slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if err := s.verifyWALMode(); err != nil {
		s.Close()
		return nil, err
	}

	if err := db.AutoMigrate(&storage.EntryModel{}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	_ = os.Chmod(config.DBPath, 0600)

	var newest storage.EntryModel
	if err := db.Select("id", "created_at").Order("id DESC").Limit(1).Find(&newest).Error; err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to read newest entry: %w", err)
	}
	s.lastCreated = newest.CreatedAt

	// A lowered ceiling takes effect before anything is served.
	if _, err := s.Prune(context.Background()); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("opened history database", "path", config.DBPath, "max_entries", s.maxEntries)
	return s, nil
}

func (s *SQLiteStorage) verifyWALMode() error {
	var journalMode string
	if err := s.db.Raw("PRAGMA journal_mode;").Scan(&journalMode).Error; err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// Close implements storage.Store interface
func (s *SQLiteStorage) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append implements storage.Store interface
func (s *SQLiteStorage) Append(ctx context.Context, in storage.AppendInput) (*types.Entry, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	hash := dedup.Sum(in.Payload).String()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		model  *storage.EntryModel
		pruned int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		model, err = s.insert(tx, in, hash, s.stamp(s.lastCreated))
		if err != nil {
			return err
		}
		pruned, err = s.prune(tx)
		return err
	})
	if err != nil {
		return nil, classify("append", err)
	}

	s.lastCreated = model.CreatedAt
	if pruned > 0 {
		s.logger.Debug("pruned oldest entries", "deleted", pruned, "max_entries", s.maxEntries)
	}
	return model.ToEntry(), nil
}

// insert admits one row inside tx, rejecting duplicates by content hash.
func (s *SQLiteStorage) insert(tx *gorm.DB, in storage.AppendInput, hash string, createdAt time.Time) (*storage.EntryModel, error) {
	exists, err := existsByHash(tx, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.NewDuplicateContent(hash)
	}

	model := storage.NewEntryModel(in, hash, createdAt)
	if err := tx.Create(model).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperr.NewDuplicateContent(hash)
		}
		return nil, err
	}
	return model, nil
}

// stamp returns a creation time never earlier than prev, so id order and
// created_at order agree even if the wall clock steps back.
func (s *SQLiteStorage) stamp(prev time.Time) time.Time {
	now := s.now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

// Prune implements storage.Store interface
func (s *SQLiteStorage) Prune(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = s.prune(tx)
		return err
	})
	if err != nil {
		return 0, classify("prune", err)
	}
	if deleted > 0 {
		s.logger.Debug("pruned oldest entries", "deleted", deleted, "max_entries", s.maxEntries)
	}
	return deleted, nil
}

// prune removes the lowest ids until at most maxEntries rows remain.
func (s *SQLiteStorage) prune(tx *gorm.DB) (int64, error) {
	var count int64
	if err := tx.Model(&storage.EntryModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	excess := count - int64(s.maxEntries)
	if excess <= 0 {
		return 0, nil
	}
	result := tx.Exec(
		"DELETE FROM entries WHERE id IN (SELECT id FROM entries ORDER BY id ASC LIMIT ?)",
		excess,
	)
	return result.RowsAffected, result.Error
}

// Get implements storage.Store interface
func (s *SQLiteStorage) Get(ctx context.Context, id int64) (*types.Entry, error) {
	var model storage.EntryModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound(id)
		}
		return nil, classify("get", err)
	}
	return model.ToEntry(), nil
}

// List implements storage.Store interface
func (s *SQLiteStorage) List(ctx context.Context, filter storage.ListFilter) ([]*types.Entry, error) {
	query := s.db.WithContext(ctx).Model(&storage.EntryModel{}).Order("id DESC")
	query = paginate(query, filter.Limit, filter.Offset)

	var models []storage.EntryModel
	if err := query.Find(&models).Error; err != nil {
		return nil, classify("list", err)
	}
	return toEntries(models), nil
}

// AddTag implements storage.Store interface
func (s *SQLiteStorage) AddTag(ctx context.Context, id int64, tag string) error {
	tag, err := storage.ValidateTag(tag)
	if err != nil {
		return apperr.NewInvalidRequest(err.Error())
	}
	return s.mutateTags(ctx, "add_tag", id, func(tags []string) ([]string, bool) {
		for _, t := range tags {
			if t == tag {
				return tags, false
			}
		}
		return append(tags, tag), true
	})
}

// RemoveTag implements storage.Store interface
func (s *SQLiteStorage) RemoveTag(ctx context.Context, id int64, tag string) error {
	tag, err := storage.ValidateTag(tag)
	if err != nil {
		return apperr.NewInvalidRequest(err.Error())
	}
	return s.mutateTags(ctx, "remove_tag", id, func(tags []string) ([]string, bool) {
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out, len(out) != len(tags)
	})
}

// mutateTags rewrites the tag set of one entry. Only the tags columns change.
func (s *SQLiteStorage) mutateTags(ctx context.Context, op string, id int64, fn func([]string) ([]string, bool)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model storage.EntryModel
		if err := tx.Select("id", "tags").First(&model, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NewNotFound(id)
			}
			return err
		}

		next, changed := fn([]string(model.Tags))
		if !changed {
			return nil
		}
		return tx.Model(&storage.EntryModel{}).Where("id = ?", id).Updates(map[string]any{
			"tags":        storage.StringArray(next),
			"tags_folded": storage.FoldTags(next),
		}).Error
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

// ExistsByHash implements storage.Store interface
func (s *SQLiteStorage) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	exists, err := existsByHash(s.db.WithContext(ctx), hash)
	if err != nil {
		return false, classify("exists_by_hash", err)
	}
	return exists, nil
}

func existsByHash(tx *gorm.DB, hash string) (bool, error) {
	var count int64
	if err := tx.Model(&storage.EntryModel{}).Where("content_hash = ?", hash).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Clear implements storage.Store interface
func (s *SQLiteStorage) Clear(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result := s.db.WithContext(ctx).Exec("DELETE FROM entries")
	if result.Error != nil {
		return 0, classify("clear", result.Error)
	}
	s.logger.Info("cleared history", "deleted", result.RowsAffected)
	return result.RowsAffected, nil
}

// Count implements storage.Store interface
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&storage.EntryModel{}).Count(&count).Error; err != nil {
		return 0, classify("count", err)
	}
	return count, nil
}

// MaxEntries returns the retention ceiling.
func (s *SQLiteStorage) MaxEntries() int {
	return s.maxEntries
}

func validateInput(in storage.AppendInput) error {
	if _, err := types.ParseKind(string(in.Kind)); err != nil {
		return apperr.NewInvalidRequest(fmt.Sprintf("%v: %q", storage.ErrInvalidKind, in.Kind))
	}
	if in.ByteLength < 0 {
		return apperr.NewInvalidRequest("byte length must not be negative")
	}
	for _, tag := range in.Tags {
		if _, err := storage.ValidateTag(tag); errors.Is(err, storage.ErrTagTooLong) {
			return apperr.NewInvalidRequest(fmt.Sprintf("%v: %d bytes, limit is %d", err, len(strings.TrimSpace(tag)), storage.MaxTagLength))
		}
	}
	return nil
}

func paginate(query *gorm.DB, limit, offset int) *gorm.DB {
	if limit > 0 {
		query = query.Limit(limit)
	} else if offset > 0 {
		query = query.Limit(storage.NoLimit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

func toEntries(models []storage.EntryModel) []*types.Entry {
	entries := make([]*types.Entry, len(models))
	for i := range models {
		entries[i] = models[i].ToEntry()
	}
	return entries
}

// classify passes typed errors through and wraps everything else as a storage failure.
func classify(op string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.NewStorageFailure(op, err)
}

// isUniqueConstraintError checks for a UNIQUE violation, translated or raw.
func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
