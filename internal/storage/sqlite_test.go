package storage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/dshills/coderag/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), Target{Path: MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testItem(name string, chunkType types.ChunkType, vector ...float32) Item {
	body := fmt.Sprintf("fun %s() {}", name)
	return Item{
		Chunk: types.Chunk{
			FilePath:  "src/main/kotlin/App.kt",
			StartLine: 1,
			EndLine:   1,
			ChunkType: chunkType,
			Name:      name,
			Signature: types.StringPtr(body),
			Content:   types.ContextHeader("src/main/kotlin/App.kt", "") + body,
		},
		Vector: vector,
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "vectors.db")

	store, err := Open(context.Background(), Target{Path: path})
	require.NoError(t, err)
	assert.FileExists(t, path)
	require.NoError(t, store.Close())
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), Target{})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestInsertAndCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.Insert(ctx, []Item{
		testItem("a", types.ChunkFunction, 1, 0),
		testItem("b", types.ChunkFunction, 0, 1),
	}))
	require.NoError(t, store.Insert(ctx, []Item{testItem("c", types.ChunkClass, 1, 1)}))

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	dim, err := store.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	// Empty insert is a no-op
	require.NoError(t, store.Insert(ctx, nil))
	n, _ = store.Count(ctx)
	assert.Equal(t, 3, n)
}

func TestInsert_AssignsIDsInOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []Item{
		testItem("first", types.ChunkFunction, 1, 0),
		testItem("second", types.ChunkFunction, 0, 1),
	}))

	for id, name := range map[int64]string{1: "first", 2: "second"} {
		rec, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, name, rec.Chunk.Name)
	}

	_, err := store.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsert_RoundTripsChunk(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	parent := "WeatherScreen"
	item := Item{
		Chunk: types.Chunk{
			FilePath:   "ui/WeatherScreen.kt",
			StartLine:  10,
			EndLine:    14,
			ChunkType:  types.ChunkMethod,
			Name:       "render",
			ParentName: &parent,
			Content:    types.ContextHeader("ui/WeatherScreen.kt", parent) + "fun render() {\n}",
		},
		Vector: []float32{0.5, -0.25, 1},
	}
	require.NoError(t, store.Insert(ctx, []Item{item}))

	rec, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, item.Chunk, rec.Chunk)
	assert.Equal(t, item.Vector, rec.Vector)
	assert.Nil(t, rec.Chunk.Signature)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestInsert_IsAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Insert(ctx, []Item{
		testItem("ok", types.ChunkFunction, 1, 0),
		testItem("bad", types.ChunkFunction, 1, 0, 0),
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrStorage)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed insert must not leave partial records")

	dim, err := store.Dimension(ctx)
	require.NoError(t, err)
	assert.Zero(t, dim, "dimension is only pinned by a committed insert")
}

func TestInsert_Validation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	invalid := testItem("x", types.ChunkFunction, 1)
	invalid.Chunk.Content = ""
	assert.ErrorIs(t, store.Insert(ctx, []Item{invalid}), types.ErrEmptyContent)

	assert.ErrorIs(t, store.Insert(ctx, []Item{testItem("x", types.ChunkFunction)}), ErrDimensionMismatch)

	require.NoError(t, store.Insert(ctx, []Item{testItem("x", types.ChunkFunction, 1, 2)}))
	assert.ErrorIs(t, store.Insert(ctx, []Item{testItem("y", types.ChunkFunction, 1, 2, 3)}), ErrDimensionMismatch)
}

func TestSearchSimilar(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []Item{
		testItem("east", types.ChunkFunction, 1, 0),
		testItem("north", types.ChunkFunction, 0, 1),
		testItem("northeast", types.ChunkFunction, 1, 1),
		testItem("west", types.ChunkFunction, -1, 0),
	}))

	results, err := store.SearchSimilar(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "east", results[0].Chunk.Name)
	assert.Zero(t, results[0].Distance)
	assert.Equal(t, 1.0, results[0].Relevance())
	assert.Equal(t, "northeast", results[1].Chunk.Name)
	assert.Equal(t, "north", results[2].Chunk.Name)
	assert.InDelta(t, 1, results[2].Distance, 1e-9)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestSearchSimilar_ReturnsMinOfLimitAndCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []Item{
		testItem("a", types.ChunkFunction, 1, 0),
		testItem("b", types.ChunkFunction, 0, 1),
	}))

	results, err := store.SearchSimilar(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchSimilar_TiesByID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	items := make([]Item, 5)
	for i := range items {
		items[i] = testItem(fmt.Sprintf("dup%d", i), types.ChunkFunction, 2, 2)
	}
	require.NoError(t, store.Insert(ctx, items))

	results, err := store.SearchSimilar(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, int64(i+1), r.ID)
	}
}

func TestSearchSimilar_EachInsertedVectorFindsItself(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rng := rand.New(rand.NewPCG(1, 2))
	vectors := make([][]float32, 201)
	items := make([]Item, len(vectors))
	for i := range vectors {
		v := make([]float32, 37)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vectors[i] = v
		items[i] = testItem(fmt.Sprintf("v%d", i), types.ChunkFunction, v...)
	}
	require.NoError(t, store.Insert(ctx, items))

	for i, v := range vectors {
		results, err := store.SearchSimilar(ctx, v, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, int64(i+1), results[0].ID, "vector %d", i)
		assert.Zero(t, results[0].Distance, "vector %d", i)
	}
}

func TestSearchSimilar_ScaledCopyTiesByID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := []float32{0.3, -0.7, 0.1, 0.9, -0.2}
	scaled := make([]float32, len(base))
	for i, x := range base {
		scaled[i] = x * 8
	}
	require.NoError(t, store.Insert(ctx, []Item{
		testItem("base", types.ChunkFunction, base...),
		testItem("scaled", types.ChunkFunction, scaled...),
	}))

	for _, q := range [][]float32{base, scaled} {
		results, err := store.SearchSimilar(ctx, q, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, int64(1), results[0].ID)
		assert.Equal(t, int64(2), results[1].ID)
		assert.Zero(t, results[0].Distance)
		assert.Zero(t, results[1].Distance)
	}
}

func TestSearchSimilar_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Empty store is not an error
	results, err := store.SearchSimilar(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	for _, limit := range []int{0, -3} {
		_, err = store.SearchSimilar(ctx, []float32{1, 0}, limit)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	}

	require.NoError(t, store.Insert(ctx, []Item{testItem("a", types.ChunkFunction, 1, 0)}))
	_, err = store.SearchSimilar(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchSimilarFiltered(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	screen := testItem("WeatherScreen", types.ChunkClass, 1, 0)
	screen.Chunk.FilePath = "ui/WeatherScreen.kt"
	render := testItem("renderWeather", types.ChunkMethod, 1, 0.1)
	render.Chunk.FilePath = "ui/WeatherScreen.kt"
	repo := testItem("loadWeather", types.ChunkFunction, 1, 0.2)
	repo.Chunk.FilePath = "data/Repo.kt"
	require.NoError(t, store.Insert(ctx, []Item{screen, render, repo}))

	names := func(rs []SimilarityResult) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.Chunk.Name
		}
		return out
	}

	results, err := store.SearchSimilarFiltered(ctx, []float32{1, 0}, 5, &SearchFilters{
		ChunkTypes: []types.ChunkType{types.ChunkMethod, types.ChunkFunction},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"renderWeather", "loadWeather"}, names(results))

	results, err = store.SearchSimilarFiltered(ctx, []float32{1, 0}, 5, &SearchFilters{FilePattern: "ui/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"WeatherScreen", "renderWeather"}, names(results))

	results, err = store.SearchSimilarFiltered(ctx, []float32{1, 0}, 5, &SearchFilters{NameContains: "load"})
	require.NoError(t, err)
	assert.Equal(t, []string{"loadWeather"}, names(results))

	results, err = store.SearchSimilarFiltered(ctx, []float32{1, 0}, 5, &SearchFilters{NameContains: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWipeOnInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.db")
	ctx := context.Background()

	first, err := Open(ctx, Target{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.Insert(ctx, []Item{
		testItem("a", types.ChunkFunction, 1, 0),
		testItem("b", types.ChunkFunction, 0, 1),
	}))
	require.NoError(t, first.Close())

	// Reopening without wipe keeps records and keeps counting ids
	second, err := Open(ctx, Target{Path: path})
	require.NoError(t, err)
	require.NoError(t, second.Insert(ctx, []Item{testItem("c", types.ChunkFunction, 1, 1)}))
	rec, err := second.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "c", rec.Chunk.Name)
	require.NoError(t, second.Close())

	wiped, err := Open(ctx, Target{Path: path, WipeOnInit: true})
	require.NoError(t, err)
	defer func() { _ = wiped.Close() }()

	n, err := wiped.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A new model may use a different dimension after a wipe
	require.NoError(t, wiped.Insert(ctx, []Item{testItem("d", types.ChunkFunction, 1, 2, 3)}))
	rec, err = wiped.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "d", rec.Chunk.Name)
}

func TestClose_Idempotent(t *testing.T) {
	store, err := Open(context.Background(), Target{Path: MemoryPath})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Close(), ErrClosed)

	_, err = store.Count(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Insert(context.Background(), []Item{testItem("a", types.ChunkFunction, 1)}), ErrClosed)
	_, err = store.SearchSimilar(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []Item{
		testItem("A", types.ChunkClass, 1, 0),
		testItem("f", types.ChunkFunction, 0, 1),
		testItem("g", types.ChunkFunction, 1, 1),
	}))

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Count)
	assert.Equal(t, 2, status.Dimension)
	assert.Equal(t, map[types.ChunkType]int{types.ChunkClass: 1, types.ChunkFunction: 2}, status.ByType)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Equal(t, DriverName, status.Driver)
}

func TestMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	version, err := SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.String())

	// Re-applying is a no-op
	require.NoError(t, ApplyMigrations(ctx, store.db))

	require.NoError(t, RollbackMigration(ctx, store.db))
	version, err = SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version.String())

	require.NoError(t, ApplyMigrations(ctx, store.db))
	version, err = SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.String())
}

func TestOpenStore(t *testing.T) {
	open := OpenStore()
	store, err := open(context.Background(), Target{Path: MemoryPath})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
