package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// searchSymbolVectorsWithQuerier ranks a project's embedded symbols by cosine similarity
func (s *SQLiteStorage) searchSymbolVectorsWithQuerier(ctx context.Context, q querier, projectID int64, queryVector []float32, limit int, filters *SearchFilters) ([]SymbolResult, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []SymbolResult{}, nil
	}
	// SQL-side distance when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchSymbolVectorsOptimized(ctx, q, projectID, queryVector, limit, filters)
	}
	return searchSymbolVectorsFallback(ctx, q, projectID, queryVector, limit, filters)
}

// searchSymbolVectorsOptimized computes similarity in the database with vec_distance_cosine
func searchSymbolVectorsOptimized(ctx context.Context, q querier, projectID int64, queryVector []float32, limit int, filters *SearchFilters) ([]SymbolResult, error) {
	blob := serializeVector(queryVector)

	// vec_distance_cosine is a distance, lower is better
	query := `
		SELECT ` + symbolColumns + `, f.file_path,
		       1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM symbols s
		INNER JOIN symbol_embeddings e ON e.symbol_id = s.id
		INNER JOIN files f ON s.file_id = f.id
		WHERE f.project_id = ? AND e.dimension = ?
	`
	args := []interface{}{blob, projectID, len(queryVector)}
	query, args = applySymbolFilters(query, args, filters)

	if filters != nil && filters.MinRelevance > 0 {
		query += " AND (1.0 - vec_distance_cosine(e.vector, ?)) >= ?"
		args = append(args, blob, filters.MinRelevance)
	}

	query += " ORDER BY similarity DESC, s.id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]SymbolResult, 0, limit)
	for rows.Next() {
		var result SymbolResult
		sym, err := scanSymbol(rows, &result.FilePath, &result.Similarity)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		result.Symbol = sym
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchSymbolVectorsFallback loads candidate vectors and scores them in Go.
// Used by purego builds, which have no vector extension.
func searchSymbolVectorsFallback(ctx context.Context, q querier, projectID int64, queryVector []float32, limit int, filters *SearchFilters) ([]SymbolResult, error) {
	query := `
		SELECT ` + symbolColumns + `, f.file_path, e.vector
		FROM symbols s
		INNER JOIN symbol_embeddings e ON e.symbol_id = s.id
		INNER JOIN files f ON s.file_id = f.id
		WHERE f.project_id = ?
	`
	args := []interface{}{projectID}
	query, args = applySymbolFilters(query, args, filters)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]SymbolResult, 0, limit)
	for rows.Next() {
		var result SymbolResult
		var blob []byte
		sym, err := scanSymbol(rows, &result.FilePath, &blob)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // embedded with a different model
		}

		result.Symbol = sym
		result.Similarity = cosineSimilarity(queryVector, vector)
		if filters != nil && filters.MinRelevance > 0 && result.Similarity < filters.MinRelevance {
			continue
		}
		candidates = append(candidates, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Symbol.ID < candidates[j].Symbol.ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// searchSnippetsWithQuerier runs a BM25 full-text search over snippets
func (s *SQLiteStorage) searchSnippetsWithQuerier(ctx context.Context, q querier, projectID int64, query string, limit int, filters *SearchFilters) ([]SnippetResult, error) {
	if limit <= 0 {
		return []SnippetResult{}, nil
	}

	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, fmt.Errorf("empty search query")
	}

	sqlQuery := `
		SELECT sn.id, f.file_path, sn.start_line, sn.end_line,
		       bm25(snippets_fts) AS score
		FROM snippets_fts
		INNER JOIN snippets sn ON sn.id = snippets_fts.rowid
		INNER JOIN files f ON sn.file_id = f.id
		WHERE snippets_fts MATCH ?
		AND f.project_id = ?
	`
	args := []interface{}{match, projectID}

	if filters != nil && filters.FilePattern != "" {
		sqlQuery += " AND f.file_path GLOB ?"
		args = append(args, filters.FilePattern)
	}

	// BM25 is negative, lower is better
	sqlQuery += " ORDER BY score, sn.id LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]SnippetResult, 0)
	for rows.Next() {
		var r SnippetResult
		var bm25 float64
		if err := rows.Scan(&r.SnippetID, &r.FilePath, &r.StartLine, &r.EndLine, &bm25); err != nil {
			return nil, err
		}
		r.Score = normalizeBM25(bm25)
		if filters != nil && filters.MinRelevance > 0 && r.Score < filters.MinRelevance {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// applySymbolFilters adds WHERE clause filters for symbol search
func applySymbolFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if len(filters.CodeTypes) > 0 {
		placeholders := make([]string, len(filters.CodeTypes))
		for i, typ := range filters.CodeTypes {
			placeholders[i] = "?"
			args = append(args, typ)
		}
		query += " AND s.code_type IN (" + strings.Join(placeholders, ",") + ")"
	}

	if filters.FilePattern != "" {
		query += " AND f.file_path GLOB ?"
		args = append(args, filters.FilePattern)
	}

	return query, args
}

// normalizeBM25 maps a BM25 score (typically in [-50, 0]) into (0, 1]
func normalizeBM25(score float64) float64 {
	return 1.0 / (1.0 + math.Abs(score)/50.0)
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sanitizeFTSQuery turns free text into an FTS5 MATCH expression.
// Every word of two or more characters becomes a quoted phrase and the phrases are ORed,
// so user input can never reach FTS5 operator syntax.
func sanitizeFTSQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 {
			continue
		}
		key := strings.ToLower(w)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// SerializeVector encodes an embedding for storage
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector decodes a stored embedding
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
