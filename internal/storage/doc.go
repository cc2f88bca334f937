// Package storage persists an imported code index in SQLite and answers the two
// retrieval queries the search pipeline is built on.
//
// # Database Schema
//
// Tables:
//   - projects: one row per imported repository
//   - files: repository-relative paths with full content and SHA-256 hashes
//   - snippets: searchable line ranges, the lexical index
//   - snippets_fts: FTS5 index over snippet text, kept in sync by triggers
//   - symbols: functions, structs and other symbols, the semantic index
//   - symbol_embeddings: one float32 vector per symbol
//
// Snippet and symbol line numbers are stored 1-based and inclusive. The lexical backend
// converts snippets to 0-based lines on the way out.
//
// # Transactions
//
// Tx implements Storage, so import code can run the same calls inside a transaction:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	if err := tx.UpsertFile(ctx, file); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and scores vectors in Go. Building with the
// sqlite_vec tag switches to github.com/mattn/go-sqlite3 and computes cosine distance in SQL.
package storage
