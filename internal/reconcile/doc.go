// Package reconcile merges lexical code-search hits into semantic search hits.
//
// A semantic hit names a symbol and the 1-based line span it covers. A lexical hit is a
// raw, 0-based line range produced by a literal search. Reconciliation attaches every
// overlapping lexical range to the semantic hit as evidence, then re-ranks the semantic
// hits by how much evidence they collected:
//
//	lexical := []types.LexicalHit{{File: "a.rs", StartLine: 123, EndLine: 127}}
//	semantic := []types.SemanticHit{{Context: types.SymbolContext{FilePath: "a.rs"}, LineFrom: 123, LineTo: 200}}
//
//	hits, err := reconcile.Reconcile(lexical, semantic)
//	// hits[0].SubMatches == &[]types.OverlapRange{{OverlapFrom: 124, OverlapTo: 128}}
//
// # Pipeline
//
//  1. GroupByFile buckets lexical hits by path.
//  2. MatchOverlaps intersects one semantic span with the bucket for its file.
//  3. Reconcile drives both and stable-sorts by descending evidence count, so hits with
//     equal evidence keep the upstream relevance order.
//
// # Coordinates
//
// Lexical hits are shifted by +1 on both bounds before comparison. That shift is a
// contract between the two search backends, not a local convention.
//
// # Errors
//
// The whole batch fails on the first malformed hit with a *types.MalformedHitError.
// Nothing is coerced or skipped. A semantic hit whose file has no lexical hits is not an
// error; its SubMatches stays nil.
//
// All functions are pure and safe for concurrent use.
package reconcile
