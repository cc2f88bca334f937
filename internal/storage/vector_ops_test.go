package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedSymbols stores one embedded symbol per vector and returns their IDs in order
func seedSymbols(tb testing.TB, s *SQLiteStorage, fileID int64, codeType string, vectors ...[]float32) []int64 {
	tb.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(vectors))
	for i, v := range vectors {
		sym := &Symbol{
			FileID:   fileID,
			Name:     codeType + string(rune('a'+i)),
			CodeType: codeType,
			LineFrom: i*10 + 1,
			LineTo:   i*10 + 5,
		}
		require.NoError(tb, s.UpsertSymbol(ctx, sym))
		require.NoError(tb, s.UpsertSymbolEmbedding(ctx, &SymbolEmbedding{
			SymbolID:  sym.ID,
			Vector:    SerializeVector(v),
			Dimension: len(v),
			Provider:  "local",
			Model:     "test",
		}))
		ids = append(ids, sym.ID)
	}
	return ids
}

func TestSearchSymbolVectors(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	lib := createTestFile(t, storage, project.ID, "src/lib.rs", "")
	cfg := createTestFile(t, storage, project.ID, "src/config/mod.rs", "")

	fnIDs := seedSymbols(t, storage, lib.ID, "Function",
		[]float32{1, 0, 0},
		[]float32{0.9, 0.1, 0},
		[]float32{0, 1, 0},
	)
	structIDs := seedSymbols(t, storage, cfg.ID, "Struct",
		[]float32{0.95, 0.05, 0},
	)
	// A vector from another model never matches
	seedSymbols(t, storage, lib.ID, "Enum", []float32{1, 0})

	query := []float32{1, 0, 0}

	tests := []struct {
		name    string
		limit   int
		filters *SearchFilters
		want    []int64
	}{
		{
			name:  "ranked by similarity",
			limit: 10,
			want:  []int64{fnIDs[0], structIDs[0], fnIDs[1], fnIDs[2]},
		},
		{
			name:  "limit truncates",
			limit: 2,
			want:  []int64{fnIDs[0], structIDs[0]},
		},
		{
			name:    "code type filter",
			limit:   10,
			filters: &SearchFilters{CodeTypes: []string{"Struct"}},
			want:    []int64{structIDs[0]},
		},
		{
			name:    "file pattern filter",
			limit:   10,
			filters: &SearchFilters{FilePattern: "src/lib.rs"},
			want:    []int64{fnIDs[0], fnIDs[1], fnIDs[2]},
		},
		{
			name:    "min relevance",
			limit:   10,
			filters: &SearchFilters{MinRelevance: 0.5},
			want:    []int64{fnIDs[0], structIDs[0], fnIDs[1]},
		},
		{
			name:  "zero limit",
			limit: 0,
			want:  []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := storage.SearchSymbolVectors(ctx, project.ID, query, tt.limit, tt.filters)
			require.NoError(t, err)

			got := make([]int64, len(results))
			for i, r := range results {
				got[i] = r.Symbol.ID
				assert.NotEmpty(t, r.FilePath)
			}
			assert.Equal(t, tt.want, got)

			for i := 1; i < len(results); i++ {
				assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
			}
		})
	}
}

func TestSearchSymbolVectors_OtherProject(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	other := &Project{Name: "other", IndexVersion: "1.0.0"}
	require.NoError(t, storage.CreateProject(ctx, other))

	file := createTestFile(t, storage, other.ID, "src/lib.rs", "")
	seedSymbols(t, storage, file.ID, "Function", []float32{1, 0})

	results, err := storage.SearchSymbolVectors(ctx, project.ID, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSnippets(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	project := createTestProject(t, storage)
	lib := createTestFile(t, storage, project.ID, "src/lib.rs", "")
	docs := createTestFile(t, storage, project.ID, "docs/guide.md", "")

	snippets := []*Snippet{
		{FileID: lib.ID, StartLine: 1, EndLine: 8, Text: "pub fn parse_config(path: &Path) -> Config"},
		{FileID: lib.ID, StartLine: 20, EndLine: 30, Text: "fn render_template(ctx: &Context)"},
		{FileID: docs.ID, StartLine: 3, EndLine: 3, Text: "The config file is parsed at startup"},
	}
	for _, sn := range snippets {
		require.NoError(t, storage.UpsertSnippet(ctx, sn))
	}

	t.Run("matches any term", func(t *testing.T) {
		results, err := storage.SearchSnippets(ctx, project.ID, "config template", 10, nil)
		require.NoError(t, err)
		assert.Len(t, results, 3)
		for _, r := range results {
			assert.Greater(t, r.Score, 0.0)
			assert.LessOrEqual(t, r.Score, 1.0)
		}
	})

	t.Run("lines are returned as stored", func(t *testing.T) {
		results, err := storage.SearchSnippets(ctx, project.ID, "render_template", 10, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "src/lib.rs", results[0].FilePath)
		assert.Equal(t, 20, results[0].StartLine)
		assert.Equal(t, 30, results[0].EndLine)
	})

	t.Run("file pattern", func(t *testing.T) {
		results, err := storage.SearchSnippets(ctx, project.ID, "config", 10, &SearchFilters{FilePattern: "docs/*"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "docs/guide.md", results[0].FilePath)
	})

	t.Run("operator syntax is treated as text", func(t *testing.T) {
		results, err := storage.SearchSnippets(ctx, project.ID, `config AND NOT "(render*`, 10, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, results)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := storage.SearchSnippets(ctx, project.ID, "  ?! ", 10, nil)
		assert.Error(t, err)
	})
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"single word", "config", `"config"`},
		{"multiple words", "parse config", `"parse" OR "config"`},
		{"underscores kept", "parse_config", `"parse_config"`},
		{"punctuation split", "Config::load()", `"Config" OR "load"`},
		{"operators quoted", "a AND b OR NEAR", `"AND" OR "OR" OR "NEAR"`},
		{"short tokens dropped", "a b cd", `"cd"`},
		{"duplicates dropped", "load Load LOAD", `"load"`},
		{"unicode letters", "설정 로드", `"설정" OR "로드"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFTSQuery(tt.input))
		})
	}
}

func TestVectorSerialization(t *testing.T) {
	original := []float32{0, 1.5, -2.25, math.MaxFloat32, math.SmallestNonzeroFloat32}
	blob := SerializeVector(original)
	assert.Len(t, blob, len(original)*4)
	assert.Equal(t, original, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func BenchmarkSearchSymbolVectors(b *testing.B) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(b, err)
	defer func() { _ = storage.Close() }()

	ctx := context.Background()
	project := &Project{Name: "bench", IndexVersion: "1.0.0"}
	require.NoError(b, storage.CreateProject(ctx, project))
	file := &File{ProjectID: project.ID, FilePath: "src/lib.rs"}
	require.NoError(b, storage.UpsertFile(ctx, file))

	vectors := make([][]float32, 200)
	for i := range vectors {
		v := make([]float32, 384)
		for j := range v {
			v[j] = float32((i+1)*(j+1)%97) * 0.01
		}
		vectors[i] = v
	}
	seedSymbols(b, storage, file.ID, "Function", vectors...)

	query := vectors[7]
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := storage.SearchSymbolVectors(ctx, project.ID, query, 10, nil); err != nil {
			b.Fatal(err)
		}
	}
}
