package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

func setupBenchmarkDB(b *testing.B, maxEntries int) *SQLiteStorage {
	store, err := New(storage.Config{
		DBPath:     filepath.Join(b.TempDir(), "bench.db"),
		MaxEntries: maxEntries,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		if err := store.Close(); err != nil {
			b.Error(err)
		}
	})
	return store
}

func generateTestData(size, seed int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + (i+seed)%26)
	}
	return []byte(fmt.Sprintf("%d:%s", seed, data))
}

func BenchmarkAppend(b *testing.B) {
	store := setupBenchmarkDB(b, storage.DefaultMaxEntries)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := store.Append(ctx, storage.AppendInput{
			Kind:          types.KindText,
			Payload:       generateTestData(1024, i),
			SourceProcess: "benchmark",
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkAppendAtCeiling measures the steady state where every append prunes.
func BenchmarkAppendAtCeiling(b *testing.B) {
	store := setupBenchmarkDB(b, 100)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if _, err := store.Append(ctx, storage.AppendInput{Kind: types.KindText, Payload: generateTestData(64, -i-1)}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Append(ctx, storage.AppendInput{Kind: types.KindText, Payload: generateTestData(64, i)}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkList(b *testing.B) {
	store := setupBenchmarkDB(b, storage.DefaultMaxEntries)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		if _, err := store.Append(ctx, storage.AppendInput{Kind: types.KindText, Payload: generateTestData(256, i)}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.List(ctx, storage.ListFilter{Limit: 50}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearch(b *testing.B) {
	store := setupBenchmarkDB(b, storage.DefaultMaxEntries)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		if _, err := store.Append(ctx, storage.AppendInput{Kind: types.KindText, Payload: generateTestData(256, i)}); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Search(ctx, storage.SearchOptions{Query: "XYZ", Limit: 50}); err != nil {
			b.Fatal(err)
		}
	}
}
