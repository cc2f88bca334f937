// Package ingest loads an index dump produced by an external indexer.
//
// A dump is JSON Lines: file records carry full content, snippet records carry
// searchable line ranges, and symbol records carry the semantic backend's fields
// plus an optional embedding. Records are committed in batched transactions.
//
// # Incremental Import
//
// A file whose content hash matches storage is skipped together with every snippet
// and symbol that names it. A changed file loses its old snippets and symbols
// before the new ones are written.
//
// # Embeddings
//
// Symbols without a vector are embedded with the configured embedder in batches of
// at most embedder.MaxBatchSize texts, several batches at a time. A failed batch is
// reported in Statistics and its symbols are stored without vectors.
//
// # Usage
//
//	im := ingest.New(store, emb, logger)
//	stats, err := im.ImportFile(ctx, "my-repo", "index.jsonl", nil)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("imported %d files, %d symbols\n", stats.FilesImported, stats.SymbolsImported)
package ingest
