package sqlite

import (
	"context"

	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

// Search implements storage.Store interface.
// Text payloads and tags are compared through their case-folded columns;
// image bytes are never searched.
func (s *SQLiteStorage) Search(ctx context.Context, opts storage.SearchOptions) ([]*types.Entry, error) {
	if opts.Query == "" {
		return s.List(ctx, storage.ListFilter{Limit: opts.Limit, Offset: opts.Offset})
	}

	pattern := storage.SubstringPattern(opts.Query)
	query := s.db.WithContext(ctx).Model(&storage.EntryModel{}).
		Where(`text_folded LIKE ? ESCAPE '\' OR tags_folded LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("id DESC")
	query = paginate(query, opts.Limit, opts.Offset)

	var models []storage.EntryModel
	if err := query.Find(&models).Error; err != nil {
		return nil, classify("search", err)
	}
	return toEntries(models), nil
}
