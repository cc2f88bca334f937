package types

// CodeType is the symbol category reported by the semantic backend (Function, Struct, ...).
// The values are opaque to reconciliation.
type CodeType string

const (
	CodeFunction  CodeType = "Function"
	CodeStruct    CodeType = "Struct"
	CodeEnum      CodeType = "Enum"
	CodeTrait     CodeType = "Trait"
	CodeInterface CodeType = "Interface"
	CodeMethod    CodeType = "Method"
)

// LexicalHit is a raw line-range match from the code search backend.
// Lines are 0-based and inclusive.
type LexicalHit struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// OneBased converts the hit into the 1-based, end-inclusive coordinate space used by
// semantic hits. The two backends disagree on line numbering; the +1 on both bounds is a
// cross-system contract and must change in lockstep with the backends.
func (h LexicalHit) OneBased() (from, to int) {
	return h.StartLine + 1, h.EndLine + 1
}

// Validate checks the range invariant of a lexical hit
func (h LexicalHit) Validate() error {
	if h.File == "" {
		return malformed(SourceLexical, "file", "missing")
	}
	if h.StartLine < 0 {
		return malformed(SourceLexical, "start_line", "negative line number")
	}
	if h.StartLine > h.EndLine {
		return malformed(SourceLexical, "end_line", "start_line is after end_line")
	}
	return nil
}

// SymbolContext locates a semantic hit inside the repository
type SymbolContext struct {
	FileName   string  `json:"file_name"`
	FilePath   string  `json:"file_path"`
	Module     string  `json:"module"`
	Snippet    string  `json:"snippet"`
	StructName *string `json:"struct_name"`
}

// SemanticHit is a symbol-level match from the semantic backend.
// Lines are 1-based and inclusive.
type SemanticHit struct {
	CodeType  CodeType      `json:"code_type"`
	Context   SymbolContext `json:"context"`
	Docstring *string       `json:"docstring"`
	Line      int           `json:"line"`
	LineFrom  int           `json:"line_from"`
	LineTo    int           `json:"line_to"`
	Name      string        `json:"name"`
	Signature string        `json:"signature"`
}

// Validate checks that the fields reconciliation depends on are present and ordered.
// A zero line number means the upstream record did not carry the field.
func (h SemanticHit) Validate() error {
	if h.Context.FilePath == "" {
		return malformed(SourceSemantic, "context.file_path", "missing")
	}
	if h.LineFrom < 1 {
		return malformed(SourceSemantic, "line_from", "missing or not 1-based")
	}
	if h.LineTo < 1 {
		return malformed(SourceSemantic, "line_to", "missing or not 1-based")
	}
	if h.LineFrom > h.LineTo {
		return malformed(SourceSemantic, "line_to", "line_from is after line_to")
	}
	return nil
}

// OverlapRange is the intersection of a semantic hit and one corroborating lexical hit,
// expressed in the semantic hit's coordinates.
type OverlapRange struct {
	OverlapFrom int `json:"overlap_from"`
	OverlapTo   int `json:"overlap_to"`
}

// ReconciledHit is a semantic hit annotated with lexical evidence.
//
// SubMatches is nil when the lexical backend returned nothing for the hit's file, and a
// pointer to a (possibly empty) slice otherwise. Both count as zero evidence for ranking;
// the distinction survives JSON encoding as an absent key versus [].
type ReconciledHit struct {
	SemanticHit
	SubMatches *[]OverlapRange `json:"sub_matches,omitempty"`
}

// EvidenceCount returns the number of overlapping lexical ranges
func (h ReconciledHit) EvidenceCount() int {
	if h.SubMatches == nil {
		return 0
	}
	return len(*h.SubMatches)
}

// HasEvidenceKey reports whether a lexical search produced candidates for this file
func (h ReconciledHit) HasEvidenceKey() bool {
	return h.SubMatches != nil
}

// Clone returns a deep copy that shares no mutable state with h
func (h ReconciledHit) Clone() ReconciledHit {
	out := h
	if h.Context.StructName != nil {
		name := *h.Context.StructName
		out.Context.StructName = &name
	}
	if h.Docstring != nil {
		doc := *h.Docstring
		out.Docstring = &doc
	}
	if h.SubMatches != nil {
		matches := make([]OverlapRange, len(*h.SubMatches))
		copy(matches, *h.SubMatches)
		out.SubMatches = &matches
	}
	return out
}

// Unreconciled wraps semantic hits without attaching any evidence
func Unreconciled(hits []SemanticHit) []ReconciledHit {
	out := make([]ReconciledHit, len(hits))
	for i, h := range hits {
		out[i] = ReconciledHit{SemanticHit: h}
	}
	return out
}
