// Package embedder turns text into vectors for semantic symbol search.
//
// Three providers implement Embedder:
//
//   - Jina AI and OpenAI, both through RemoteProvider, which speaks the
//     OpenAI-compatible /embeddings wire format against a configurable base URL
//   - LocalProvider, an offline feature-hashing embedder for development and tests
//
// # Provider Selection
//
// NewFromEnv picks a provider from the environment:
//
//  1. CODEQA_EMBEDDING_PROVIDER names one explicitly
//  2. else JINA_API_KEY selects Jina AI
//  3. else OPENAI_API_KEY selects OpenAI
//  4. else the local provider is used
//
// CODEQA_EMBEDDING_BASE_URL and CODEQA_EMBEDDING_MODEL override the remote defaults.
//
// # Caching
//
// Embeddings are cached in an LRU keyed by provider, model and the SHA-256 of the text.
// Batch calls send only cache misses upstream.
//
// # Error Handling
//
// Remote calls retry with exponential backoff on transport errors, 429 and 5xx.
// Other client errors fail at once. Every provider failure matches ErrProviderFailed:
//
//	resp, err := emb.GenerateBatch(ctx, req)
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // upstream unavailable or rejected the request
//	}
package embedder
