package reconcile

import (
	"errors"
	"log/slog"
	"slices"

	"github.com/dshills/codeqa/pkg/types"
)

// Reconcile attaches lexical evidence to each semantic hit and re-ranks the hits by
// descending evidence count. The result is a permutation of semantic: nothing is added,
// dropped or deduplicated, and neither input is modified.
//
// Any malformed hit fails the whole call with a *types.MalformedHitError.
func Reconcile(lexical []types.LexicalHit, semantic []types.SemanticHit) ([]types.ReconciledHit, error) {
	if err := validate(lexical, semantic); err != nil {
		return nil, err
	}

	byFile := GroupByFile(lexical)

	out := make([]types.ReconciledHit, len(semantic))
	for i, hit := range semantic {
		out[i] = types.ReconciledHit{SemanticHit: hit}

		candidates, ok := byFile[hit.Context.FilePath]
		if !ok {
			continue
		}
		matches := MatchOverlaps(candidates, hit.LineFrom, hit.LineTo)
		out[i].SubMatches = &matches
	}

	// Stable: equal evidence keeps the semantic backend's relevance order
	slices.SortStableFunc(out, func(a, b types.ReconciledHit) int {
		return b.EvidenceCount() - a.EvidenceCount()
	})

	return out, nil
}

func validate(lexical []types.LexicalHit, semantic []types.SemanticHit) error {
	for i, hit := range lexical {
		if err := hit.Validate(); err != nil {
			return withIndex(err, i)
		}
	}
	for i, hit := range semantic {
		if err := hit.Validate(); err != nil {
			return withIndex(err, i)
		}
	}
	return nil
}

func withIndex(err error, index int) error {
	var malformed *types.MalformedHitError
	if errors.As(err, &malformed) {
		malformed.Index = index
	}
	return err
}

// Reconciler wraps Reconcile with logging
type Reconciler struct {
	logger *slog.Logger
}

// New creates a Reconciler. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

// Reconcile runs the reconciliation and logs the batch outcome
func (r *Reconciler) Reconcile(lexical []types.LexicalHit, semantic []types.SemanticHit) ([]types.ReconciledHit, error) {
	hits, err := Reconcile(lexical, semantic)
	if err != nil {
		r.logger.Warn("reconciliation rejected batch",
			slog.Int("lexical_hits", len(lexical)),
			slog.Int("semantic_hits", len(semantic)),
			slog.String("error", err.Error()))
		return nil, err
	}

	corroborated := 0
	for _, h := range hits {
		if h.EvidenceCount() > 0 {
			corroborated++
		}
	}
	r.logger.Debug("reconciled search hits",
		slog.Int("lexical_hits", len(lexical)),
		slog.Int("semantic_hits", len(semantic)),
		slog.Int("corroborated", corroborated))

	return hits, nil
}
