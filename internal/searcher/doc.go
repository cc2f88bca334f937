// Package searcher answers a code search query by combining two retrieval backends.
//
// The semantic backend returns symbols ranked by relevance. The lexical backend returns
// raw line ranges. Both run concurrently; their hits are filtered, reconciled so each
// symbol carries the lexical ranges that overlap it, stably ranked by evidence count,
// and truncated to the requested limit.
//
// # Limits
//
// Backends are asked for more candidates than the caller wants: the semantic backend
// for Limit*2 and the lexical backend for max(Limit*10, 50). Truncation happens after
// ranking, so a well-corroborated symbol from deep in the semantic list can surface.
//
// # Degradation
//
// The semantic list is the result set, so a semantic failure fails the search. When the
// lexical backend fails or its hits cannot be reconciled, the semantic hits are
// returned as-is with Degraded set. Degraded responses are never cached.
//
// # Caching
//
// Responses are cached in an LRU keyed by an xxhash digest of the request. Entries
// expire after the request's TTL and are deep-copied in and out.
package searcher
