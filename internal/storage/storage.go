package storage

import (
	"context"

	"clipboard-history/pkg/types"
)

// Store defines the durable clipboard history.
//
// Mutations (Append, Prune, AddTag, RemoveTag, Import, Clear) are serialized;
// reads never block each other. Append and its pruning pass are one atomic
// unit, so no reader observes more than the configured maximum.
type Store interface {
	// Append admits a new entry. It returns a DUPLICATE_CONTENT error if an
	// entry with the same content hash already exists.
	Append(ctx context.Context, in AppendInput) (*types.Entry, error)

	// Get retrieves an entry by id.
	Get(ctx context.Context, id int64) (*types.Entry, error)

	// List returns entries newest first.
	List(ctx context.Context, filter ListFilter) ([]*types.Entry, error)

	// Search returns entries whose text payload or tags contain the query,
	// case-insensitively, newest first.
	Search(ctx context.Context, opts SearchOptions) ([]*types.Entry, error)

	// AddTag and RemoveTag are idempotent; they fail only for unknown ids.
	AddTag(ctx context.Context, id int64, tag string) error
	RemoveTag(ctx context.Context, id int64, tag string) error

	// ExistsByHash reports whether an entry with the hex content hash exists.
	ExistsByHash(ctx context.Context, hash string) (bool, error)

	// Export returns every entry, oldest first.
	Export(ctx context.Context) ([]*types.Entry, error)

	// Import re-admits entries as new history through the same uniqueness gate as Append.
	Import(ctx context.Context, entries []types.Entry) (ImportResult, error)

	// Prune deletes the oldest entries until the ceiling holds.
	Prune(ctx context.Context) (int64, error)

	// Clear deletes every entry and returns how many were removed.
	Clear(ctx context.Context) (int64, error)

	Count(ctx context.Context) (int64, error)

	Close() error
}

// AppendInput is a normalized capture ready to be persisted.
type AppendInput struct {
	Kind          types.Kind
	Payload       []byte
	ByteLength    int64 // size before truncation; defaults to len(Payload)
	SourceProcess string
	Tags          []string
}

// ListFilter defines paging for List. A non-positive Limit means no limit.
type ListFilter struct {
	Limit  int
	Offset int
}

// SearchOptions defines criteria for searching entries.
type SearchOptions struct {
	// Literal substring; empty matches everything.
	Query string

	Limit  int
	Offset int
}

// ImportResult counts the outcome of an import.
type ImportResult struct {
	Admitted int `json:"admitted"`
	Skipped  int `json:"skipped"`
}

// Config holds storage configuration
type Config struct {
	DBPath     string // Path to SQLite database
	MaxEntries int    // Retention ceiling
}
