package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipboard-history/internal/dedup"
	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

func setupTestDB(t *testing.T, maxEntries int, opts ...Option) *SQLiteStorage {
	t.Helper()

	store, err := New(storage.Config{
		DBPath:     filepath.Join(t.TempDir(), "history.db"),
		MaxEntries: maxEntries,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appendText(t *testing.T, store *SQLiteStorage, text string) *types.Entry {
	t.Helper()
	entry, err := store.Append(context.Background(), storage.AppendInput{
		Kind:          types.KindText,
		Payload:       []byte(text),
		SourceProcess: "test",
	})
	require.NoError(t, err)
	return entry
}

func payloads(entries []*types.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Payload)
	}
	return out
}

func TestStore_BasicOperations(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	entry, err := store.Append(ctx, storage.AppendInput{
		Kind:          types.KindText,
		Payload:       []byte("hello"),
		SourceProcess: "appA.exe",
		Tags:          []string{"work"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, types.KindText, entry.Kind)
	assert.Equal(t, int64(5), entry.ByteLength)
	assert.Equal(t, dedup.Sum([]byte("hello")).String(), entry.ContentHash)
	assert.False(t, entry.CreatedAt.IsZero())

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text())
	assert.Equal(t, "appA.exe", got.SourceProcess)
	assert.Equal(t, []string{"work"}, got.Tags)

	exists, err := store.ExistsByHash(ctx, entry.ContentHash)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.ExistsByHash(ctx, dedup.Sum([]byte("other")).String())
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_ImagePayloadRoundTrip(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	png := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}
	entry, err := store.Append(ctx, storage.AppendInput{Kind: types.KindImage, Payload: png})
	require.NoError(t, err)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.KindImage, got.Kind)
	assert.Equal(t, png, got.Payload)
	assert.Equal(t, "", got.Text())
}

func TestStore_AppendDuplicate(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	first := appendText(t, store, "x")

	_, err := store.Append(ctx, storage.AppendInput{Kind: types.KindText, Payload: []byte("x")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeDuplicateContent))

	entries, err := store.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.ID, entries[0].ID)
}

func TestStore_AppendRejectsUnknownKind(t *testing.T) {
	store := setupTestDB(t, 100)

	_, err := store.Append(context.Background(), storage.AppendInput{Kind: "video", Payload: []byte("x")})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))
}

func TestStore_Capacity(t *testing.T) {
	store := setupTestDB(t, 3)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c", "d"} {
		appendText(t, store, text)
	}

	entries, err := store.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, payloads(entries))

	_, err = store.Get(ctx, 1)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestStore_OrderingAndMonotonicTimestamps(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}
	var calls atomic.Int32
	clock := func() time.Time {
		i := int(calls.Add(1)) - 1
		if i >= len(ticks) {
			return ticks[len(ticks)-1]
		}
		return ticks[i]
	}

	store := setupTestDB(t, 100, WithClock(clock))
	ctx := context.Background()

	a := appendText(t, store, "one")
	b := appendText(t, store, "two")
	c := appendText(t, store, "three")

	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID)
	assert.False(t, b.CreatedAt.Before(a.CreatedAt), "clock step back must not reorder created_at")
	assert.False(t, c.CreatedAt.Before(b.CreatedAt))

	entries, err := store.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "two", "one"}, payloads(entries))
}

func TestStore_ListPaging(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		appendText(t, store, fmt.Sprintf("item-%d", i))
	}

	page, err := store.List(ctx, storage.ListFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-3", "item-2"}, payloads(page))

	rest, err := store.List(ctx, storage.ListFilter{Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-1", "item-0"}, payloads(rest))

	none, err := store.List(ctx, storage.ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Search(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	appendText(t, store, "Hello World")
	appendText(t, store, "goodbye")
	appendText(t, store, "100% done")
	tagged := appendText(t, store, "unrelated")
	require.NoError(t, store.AddTag(ctx, tagged.ID, "HelloTag"))
	_, err := store.Append(ctx, storage.AppendInput{Kind: types.KindImage, Payload: []byte("hello in bytes")})
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"case insensitive text", "hello", []string{"unrelated", "Hello World"}},
		{"upper query", "WORLD", []string{"Hello World"}},
		{"percent is literal", "%", []string{"100% done"}},
		{"underscore is literal", "_", nil},
		{"tag match", "hellotag", []string{"unrelated"}},
		{"no match", "zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Search(ctx, storage.SearchOptions{Query: tt.query})
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, results)
				return
			}
			assert.Equal(t, tt.want, payloads(results))
		})
	}
}

func TestStore_SearchEmptyQueryMatchesList(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		appendText(t, store, text)
	}

	listed, err := store.List(ctx, storage.ListFilter{Limit: 2})
	require.NoError(t, err)
	searched, err := store.Search(ctx, storage.SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, payloads(listed), payloads(searched))
}

func TestStore_Tags(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	entry := appendText(t, store, "tag me")

	require.NoError(t, store.AddTag(ctx, entry.ID, "work"))
	require.NoError(t, store.AddTag(ctx, entry.ID, "work"))
	require.NoError(t, store.AddTag(ctx, entry.ID, "later"))

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "later"}, got.Tags)
	assert.Equal(t, entry.ContentHash, got.ContentHash)
	assert.Equal(t, "tag me", got.Text())

	require.NoError(t, store.RemoveTag(ctx, entry.ID, "work"))
	require.NoError(t, store.RemoveTag(ctx, entry.ID, "work"))
	require.NoError(t, store.RemoveTag(ctx, entry.ID, "never-added"))

	got, err = store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, got.Tags)

	results, err := store.Search(ctx, storage.SearchOptions{Query: "work"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_TagErrors(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	err := store.AddTag(ctx, 42, "work")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	err = store.RemoveTag(ctx, 42, "work")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	entry := appendText(t, store, "x")
	err = store.AddTag(ctx, entry.ID, "   ")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	src := setupTestDB(t, 100)
	ctx := context.Background()

	appendText(t, src, "first")
	second := appendText(t, src, "second")
	require.NoError(t, src.AddTag(ctx, second.ID, "keep"))
	_, err := src.Append(ctx, storage.AppendInput{Kind: types.KindImage, Payload: []byte{1, 2, 3}, ByteLength: 3})
	require.NoError(t, err)

	exported, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 3)
	assert.Equal(t, "first", exported[0].Text())

	batch := make([]types.Entry, len(exported))
	for i, e := range exported {
		batch[i] = *e
	}

	dst := setupTestDB(t, 100)
	result, err := dst.Import(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, storage.ImportResult{Admitted: 3, Skipped: 0}, result)

	reimported, err := dst.Export(ctx)
	require.NoError(t, err)
	require.Len(t, reimported, 3)
	for i := range exported {
		assert.Equal(t, exported[i].Kind, reimported[i].Kind)
		assert.Equal(t, exported[i].Payload, reimported[i].Payload)
		assert.Equal(t, exported[i].ContentHash, reimported[i].ContentHash)
		assert.Equal(t, exported[i].Tags, reimported[i].Tags)
		assert.Equal(t, exported[i].SourceProcess, reimported[i].SourceProcess)
	}
}

func TestStore_ImportOverlapAndBatchDuplicates(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	appendText(t, store, "existing")

	result, err := store.Import(ctx, []types.Entry{
		{Kind: types.KindText, Payload: []byte("existing")},
		{Kind: types.KindText, Payload: []byte("fresh")},
		{Kind: types.KindText, Payload: []byte("fresh")},
		{Kind: types.KindURL, Payload: []byte("https://example.com"), ContentHash: "bogus"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Admitted)
	assert.Equal(t, 2, result.Skipped)

	entries, err := store.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com", "fresh", "existing"}, payloads(entries))
	assert.Equal(t, dedup.Sum([]byte("https://example.com")).String(), entries[0].ContentHash)
}

func TestStore_ImportRejectsInvalidKind(t *testing.T) {
	store := setupTestDB(t, 100)

	_, err := store.Import(context.Background(), []types.Entry{{Kind: "bogus", Payload: []byte("x")}})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_ImportTagLimits(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	_, err := store.Import(ctx, []types.Entry{
		{Kind: types.KindText, Payload: []byte("fine")},
		{Kind: types.KindText, Payload: []byte("tagged"), Tags: []string{strings.Repeat("t", storage.MaxTagLength+1)}},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest))
	assert.Contains(t, err.Error(), "entry 1")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Blank tags are dropped and a tag at the limit is kept.
	atLimit := strings.Repeat("t", storage.MaxTagLength)
	result, err := store.Import(ctx, []types.Entry{
		{Kind: types.KindText, Payload: []byte("tagged"), Tags: []string{" ", atLimit}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Admitted)

	exported, err := store.Export(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, []string{atLimit}, exported[0].Tags)
}

func TestStore_ImportPrunesToCeiling(t *testing.T) {
	store := setupTestDB(t, 2)
	ctx := context.Background()

	result, err := store.Import(ctx, []types.Entry{
		{Kind: types.KindText, Payload: []byte("a")},
		{Kind: types.KindText, Payload: []byte("b")},
		{Kind: types.KindText, Payload: []byte("c")},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Admitted)

	entries, err := store.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, payloads(entries))
}

func TestStore_PruneOnOpenWithLowerCeiling(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := New(storage.Config{DBPath: dbPath, MaxEntries: 10})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		appendText(t, store, fmt.Sprintf("e%d", i))
	}
	require.NoError(t, store.Close())

	reopened, err := New(storage.Config{DBPath: dbPath, MaxEntries: 4})
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.List(ctx, storage.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e5", "e4", "e3", "e2"}, payloads(entries))

	next, err := reopened.Append(ctx, storage.AppendInput{Kind: types.KindText, Payload: []byte("e6")})
	require.NoError(t, err)
	assert.Equal(t, int64(7), next.ID)
	assert.False(t, next.CreatedAt.Before(entries[0].CreatedAt))
}

func TestStore_Clear(t *testing.T) {
	store := setupTestDB(t, 100)
	ctx := context.Background()

	appendText(t, store, "a")
	appendText(t, store, "b")

	deleted, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Content seen before a clear may be captured again.
	appendText(t, store, "a")
}

func TestStore_ConcurrentReadersNeverExceedCeiling(t *testing.T) {
	const maxEntries = 5
	store := setupTestDB(t, maxEntries)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		done     = make(chan struct{})
		maxSeen  atomic.Int64
		readErrs atomic.Int64
	)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				entries, err := store.List(ctx, storage.ListFilter{})
				if err != nil {
					readErrs.Add(1)
					continue
				}
				n := int64(len(entries))
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
			}
		}()
	}

	for i := 0; i < 40; i++ {
		appendText(t, store, fmt.Sprintf("burst-%d", i))
	}
	close(done)
	wg.Wait()

	assert.Zero(t, readErrs.Load())
	assert.LessOrEqual(t, maxSeen.Load(), int64(maxEntries))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(maxEntries), count)
}

func TestStore_ClosedStoreReportsStorageFailure(t *testing.T) {
	store := setupTestDB(t, 100)
	require.NoError(t, store.Close())

	_, err := store.Append(context.Background(), storage.AppendInput{Kind: types.KindText, Payload: []byte("x")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeStorageFailure))

	_, err = store.List(context.Background(), storage.ListFilter{})
	assert.True(t, apperr.Is(err, apperr.CodeStorageFailure))
}

func TestStore_WALMode(t *testing.T) {
	store := setupTestDB(t, 100)
	assert.NoError(t, store.verifyWALMode())
}
