package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"clipboard-history/internal/dedup"
	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

// Export implements storage.Store interface
func (s *SQLiteStorage) Export(ctx context.Context) ([]*types.Entry, error) {
	var models []storage.EntryModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, classify("export", err)
	}
	return toEntries(models), nil
}

// Import implements storage.Store interface.
// Entries get fresh ids and timestamps in input order; their content hash is
// recomputed from the payload. The batch and the final prune commit together.
func (s *SQLiteStorage) Import(ctx context.Context, entries []types.Entry) (storage.ImportResult, error) {
	inputs := make([]storage.AppendInput, len(entries))
	for i, e := range entries {
		in := storage.AppendInput{
			Kind:          e.Kind,
			Payload:       e.Payload,
			ByteLength:    e.ByteLength,
			SourceProcess: e.SourceProcess,
			Tags:          e.Tags,
		}
		if in.ByteLength < int64(len(in.Payload)) {
			in.ByteLength = int64(len(in.Payload))
		}
		if err := validateInput(in); err != nil {
			return storage.ImportResult{}, apperr.NewInvalidRequest(fmt.Sprintf("entry %d: %s", i, err.(*apperr.Error).Message))
		}
		inputs[i] = in
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var (
		result storage.ImportResult
		last   = s.lastCreated
		pruned int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result = storage.ImportResult{}
		stamp := last
		for _, in := range inputs {
			hash := dedup.Sum(in.Payload).String()
			model, err := s.insert(tx, in, hash, s.stamp(stamp))
			if apperr.Is(err, apperr.CodeDuplicateContent) {
				result.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			stamp = model.CreatedAt
			result.Admitted++
		}
		last = stamp

		var err error
		pruned, err = s.prune(tx)
		return err
	})
	if err != nil {
		return storage.ImportResult{}, classify("import", err)
	}

	s.lastCreated = maxTime(s.lastCreated, last)
	s.logger.Info("imported entries", "admitted", result.Admitted, "skipped", result.Skipped, "pruned", pruned)
	return result, nil
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
