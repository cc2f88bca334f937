// Package types defines the hit records exchanged between the search backends,
// reconciliation, and the HTTP and MCP surfaces.
//
// The two backends disagree on line numbering:
//
//	LexicalHit   0-based, inclusive   {"file": "src/lib.rs", "start_line": 9, "end_line": 11}
//	SemanticHit  1-based, inclusive   {"name": "parse", "line_from": 8, "line_to": 20, ...}
//
// LexicalHit.OneBased converts into the semantic coordinate space. ReconciledHit
// attaches the overlapping lexical ranges to a semantic hit as sub_matches.
//
// Hits that violate their range invariants are reported as *MalformedHitError,
// which matches ErrMalformedHit.
package types
