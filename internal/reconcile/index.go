package reconcile

import "github.com/dshills/codeqa/pkg/types"

// GroupByFile buckets lexical hits by file path, preserving insertion order inside each
// bucket. Files without hits have no key.
func GroupByFile(hits []types.LexicalHit) map[string][]types.LexicalHit {
	byFile := make(map[string][]types.LexicalHit)
	for _, hit := range hits {
		byFile[hit.File] = append(byFile[hit.File], hit)
	}
	return byFile
}
